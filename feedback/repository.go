package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"retro-api/domain"
	"retro-api/telemetry"
)

// Trace kinds reported for swallowed conditions.
const (
	traceItemMissing         = "feedback.item-missing"
	traceBoardNotInitialized = "feedback.board-not-initialized"
	traceDepthRejected       = "feedback.group-depth-rejected"
	traceSelfGroupRejected   = "feedback.self-group-rejected"
	traceDanglingParent      = "feedback.dangling-parent"
	traceWorkItemStale       = "feedback.workitem-stale"
)

// Repository manages feedback items on retrospective boards: CRUD, the
// two-level grouping relation, upvotes, and associations with external work
// items.
//
// Relationship mutations perform unguarded read-then-write sequences over
// several documents. Concurrent writers on the same board can race; callers
// accept eventual inconsistency in exchange for low write contention.
//
// Operations whose source contract returns "undefined" on a missing item
// report that as a (nil, nil) result.
type Repository struct {
	store     ItemStore
	identity  IdentityResolver
	workItems WorkItemReader
	telemetry Telemetry
}

// NewRepository creates a Repository with the given collaborators.
func NewRepository(store ItemStore, identity IdentityResolver, workItems WorkItemReader, tel Telemetry) *Repository {
	if store == nil {
		panic("feedback.NewRepository: item store is nil")
	}
	if identity == nil {
		panic("feedback.NewRepository: identity resolver is nil")
	}
	if workItems == nil {
		panic("feedback.NewRepository: work item reader is nil")
	}
	if tel == nil {
		panic("feedback.NewRepository: telemetry is nil")
	}
	return &Repository{store: store, identity: identity, workItems: workItems, telemetry: tel}
}

// DeleteResult carries the documents repaired by a delete. Parent and
// Children are mutually exclusive: the depth invariant rules out an item
// that has both.
type DeleteResult struct {
	Parent   *domain.FeedbackItem
	Children []*domain.FeedbackItem
}

// GroupResult carries every document touched by AdoptAsChild.
type GroupResult struct {
	Parent        *domain.FeedbackItem
	Child         *domain.FeedbackItem
	OldParent     *domain.FeedbackItem
	Grandchildren []*domain.FeedbackItem
}

// DetachResult carries every document touched by DetachToColumn.
type DetachResult struct {
	OldParent *domain.FeedbackItem
	Item      *domain.FeedbackItem
	Children  []*domain.FeedbackItem
}

// Create persists a new feedback item with a generated id, zero upvotes and
// the caller's identity, or no identity when anonymous.
func (r *Repository) Create(ctx context.Context, boardID, title, columnID string, anonymous bool) (*domain.FeedbackItem, error) {
	item := &domain.FeedbackItem{
		ID:          uuid.NewString(),
		BoardID:     boardID,
		ColumnID:    columnID,
		Title:       title,
		CreatedDate: time.Now().UTC(),
	}
	if !anonymous {
		identity := r.identity.Current(ctx)
		item.CreatedBy = &identity
	}
	if err := r.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Get retrieves a single item. A missing item is an error here, unlike the
// mutation operations.
func (r *Repository) Get(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error) {
	return r.store.GetItem(ctx, boardID, itemID)
}

// ListForBoard returns every item on the board. A board whose collection
// was never created yields an empty listing, not an error.
func (r *Repository) ListForBoard(ctx context.Context, boardID string) ([]domain.FeedbackItem, error) {
	items, err := r.store.ListItems(ctx, boardID)
	if err != nil {
		if isBoardNotInitialized(err) {
			r.telemetry.TrackTrace(ctx, traceBoardNotInitialized, err, telemetry.SeverityWarning)
			return []domain.FeedbackItem{}, nil
		}
		return nil, err
	}
	return items, nil
}

// ListByIDs filters the board listing down to the requested ids. Listing
// order is preserved, not input order; ids without a document are silently
// omitted.
func (r *Repository) ListByIDs(ctx context.Context, boardID string, ids []string) ([]domain.FeedbackItem, error) {
	items, err := r.ListForBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	filtered := []domain.FeedbackItem{}
	for _, item := range items {
		if _, ok := wanted[item.ID]; ok {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Delete removes an item and repairs the grouping relation around it: a
// child is unlinked from its parent, a deleted group head leaves its
// children standalone.
func (r *Repository) Delete(ctx context.Context, boardID, itemID string) (*DeleteResult, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	switch {
	case item.HasParent():
		parent, err := r.store.GetItem(ctx, boardID, item.ParentID)
		if err != nil {
			if !isItemNotFound(err) {
				return nil, err
			}
			r.telemetry.TrackTrace(ctx, traceDanglingParent, err, telemetry.SeverityWarning)
		} else {
			parent.RemoveChild(itemID)
			if err := r.store.UpdateItem(ctx, parent); err != nil {
				return nil, err
			}
			res.Parent = parent
		}
	case item.IsGroupHead():
		children, err := r.getMany(ctx, boardID, item.ChildIDs)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			child.ParentID = ""
		}
		if err := r.updateMany(ctx, children); err != nil {
			return nil, err
		}
		res.Children = children
	}

	if err := r.store.DeleteItem(ctx, boardID, itemID); err != nil {
		return nil, err
	}
	return res, nil
}

// IncrementUpvote adds exactly one upvote. A missing item is a traced
// no-op, not an error.
func (r *Repository) IncrementUpvote(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		if isItemNotFound(err) {
			r.telemetry.TrackTrace(ctx, traceItemMissing, err, telemetry.SeverityWarning)
			return nil, nil
		}
		return nil, err
	}
	item.Upvotes++
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateTitle replaces the item's title. A missing item is a traced no-op.
func (r *Repository) UpdateTitle(ctx context.Context, boardID, itemID, title string) (*domain.FeedbackItem, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		if isItemNotFound(err) {
			r.telemetry.TrackTrace(ctx, traceItemMissing, err, telemetry.SeverityWarning)
			return nil, nil
		}
		return nil, err
	}
	item.Title = title
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// AdoptAsChild attaches child under parent. Grouping is strictly two
// levels: an item cannot adopt itself, a prospective parent that is itself
// a child is rejected as a traced no-op, and any children the adopted item
// was heading are re-homed directly under the new parent, with their column
// aligned to it.
func (r *Repository) AdoptAsChild(ctx context.Context, boardID, parentID, childID string) (*GroupResult, error) {
	if parentID == childID {
		r.telemetry.TrackTrace(ctx, traceSelfGroupRejected, nil, telemetry.SeverityWarning)
		return nil, nil
	}

	var (
		parent, child *domain.FeedbackItem
		perr, cerr    error
		wg            sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		parent, perr = r.store.GetItem(ctx, boardID, parentID)
	}()
	go func() {
		defer wg.Done()
		child, cerr = r.store.GetItem(ctx, boardID, childID)
	}()
	wg.Wait()

	for _, err := range []error{perr, cerr} {
		if err == nil {
			continue
		}
		if isItemNotFound(err) {
			r.telemetry.TrackTrace(ctx, traceItemMissing, err, telemetry.SeverityWarning)
			return nil, nil
		}
		return nil, err
	}

	if parent.HasParent() {
		r.telemetry.TrackTrace(ctx, traceDepthRejected, nil, telemetry.SeverityWarning)
		return nil, nil
	}

	res := &GroupResult{Parent: parent, Child: child}
	parent.AddChild(childID)

	if child.HasParent() && child.ParentID != parentID {
		oldParent, err := r.store.GetItem(ctx, boardID, child.ParentID)
		if err != nil {
			if !isItemNotFound(err) {
				return nil, err
			}
			r.telemetry.TrackTrace(ctx, traceDanglingParent, err, telemetry.SeverityWarning)
		} else {
			oldParent.RemoveChild(childID)
			if err := r.store.UpdateItem(ctx, oldParent); err != nil {
				return nil, err
			}
			res.OldParent = oldParent
		}
	}

	grandchildren, err := r.getMany(ctx, boardID, child.ChildIDs)
	if err != nil {
		return nil, err
	}
	for _, grandchild := range grandchildren {
		grandchild.ParentID = parent.ID
		grandchild.ColumnID = parent.ColumnID
		parent.AddChild(grandchild.ID)
	}
	res.Grandchildren = grandchildren

	child.ChildIDs = nil
	child.ParentID = parent.ID
	child.ColumnID = parent.ColumnID

	batch := append([]*domain.FeedbackItem{parent, child}, grandchildren...)
	if err := r.updateMany(ctx, batch); err != nil {
		return nil, err
	}
	return res, nil
}

// DetachToColumn removes the item's parent link and moves it to the given
// column. Children of a moved group head follow to the new column but keep
// their parent link.
func (r *Repository) DetachToColumn(ctx context.Context, boardID, itemID, newColumnID string) (*DetachResult, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		if isItemNotFound(err) {
			r.telemetry.TrackTrace(ctx, traceItemMissing, err, telemetry.SeverityWarning)
			return nil, nil
		}
		return nil, err
	}

	res := &DetachResult{}
	if item.HasParent() {
		parent, err := r.store.GetItem(ctx, boardID, item.ParentID)
		if err != nil {
			if !isItemNotFound(err) {
				return nil, err
			}
			r.telemetry.TrackTrace(ctx, traceDanglingParent, err, telemetry.SeverityWarning)
		} else {
			parent.RemoveChild(itemID)
			if err := r.store.UpdateItem(ctx, parent); err != nil {
				return nil, err
			}
			res.OldParent = parent
		}
	}

	if item.ColumnID != newColumnID && item.IsGroupHead() {
		children, err := r.getMany(ctx, boardID, item.ChildIDs)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			child.ColumnID = newColumnID
		}
		if err := r.updateMany(ctx, children); err != nil {
			return nil, err
		}
		res.Children = children
	}

	item.ParentID = ""
	item.ColumnID = newColumnID
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	res.Item = item
	return res, nil
}

// AddAssociatedActionItem links a work item id to the feedback item. Adding
// an id already present returns the item unchanged. Failures reading the
// item are reported to telemetry and yield a (nil, nil) no-op.
func (r *Repository) AddAssociatedActionItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		r.telemetry.TrackException(ctx, err)
		return nil, nil
	}
	if !item.AddActionItem(workItemID) {
		return item, nil
	}
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveAssociatedActionItem unlinks a work item id. Removing an absent id
// returns the item unchanged; read failures follow the add contract.
func (r *Repository) RemoveAssociatedActionItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		r.telemetry.TrackException(ctx, err)
		return nil, nil
	}
	if !item.RemoveActionItem(workItemID) {
		return item, nil
	}
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetAssociatedActionItemIDs returns the work item ids linked to the item.
// Unlike its sibling operations a missing item is a raised error.
func (r *Repository) GetAssociatedActionItemIDs(ctx context.Context, boardID, itemID string) ([]int, error) {
	item, err := r.store.GetItem(ctx, boardID, itemID)
	if err != nil {
		return nil, err
	}
	return item.ActionItemIDs, nil
}

// ReconcileWorkItem checks an associated work item against the external
// tracker. The tracker offers no deletion webhook, so an unreachable
// service or a missing work item is treated as a stale association and
// removed; otherwise the item is returned unmodified.
func (r *Repository) ReconcileWorkItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error) {
	workItems, err := r.workItems.GetByIDs(ctx, []int{workItemID})
	if err != nil {
		r.telemetry.TrackTrace(ctx, traceWorkItemStale, err, telemetry.SeverityWarning)
		return r.RemoveAssociatedActionItem(ctx, boardID, itemID, workItemID)
	}
	for _, wi := range workItems {
		if wi.ID == workItemID {
			item, err := r.store.GetItem(ctx, boardID, itemID)
			if err != nil {
				r.telemetry.TrackException(ctx, err)
				return nil, nil
			}
			return item, nil
		}
	}
	r.telemetry.TrackTrace(ctx, traceWorkItemStale, nil, telemetry.SeverityWarning)
	return r.RemoveAssociatedActionItem(ctx, boardID, itemID, workItemID)
}

// getMany fetches the given documents concurrently and awaits them
// together. Missing documents are traced and omitted; any other failure
// aborts the operation.
func (r *Repository) getMany(ctx context.Context, boardID string, ids []string) ([]*domain.FeedbackItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items := make([]*domain.FeedbackItem, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			items[i], errs[i] = r.store.GetItem(ctx, boardID, id)
		}(i, id)
	}
	wg.Wait()

	found := make([]*domain.FeedbackItem, 0, len(ids))
	for i := range items {
		if errs[i] != nil {
			if isItemNotFound(errs[i]) {
				r.telemetry.TrackTrace(ctx, traceItemMissing, errs[i], telemetry.SeverityWarning)
				continue
			}
			return nil, errs[i]
		}
		found = append(found, items[i])
	}
	return found, nil
}

// updateMany persists the given documents concurrently and awaits them
// together, returning the first failure.
func (r *Repository) updateMany(ctx context.Context, items []*domain.FeedbackItem) error {
	if len(items) == 0 {
		return nil
	}
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item *domain.FeedbackItem) {
			defer wg.Done()
			errs[i] = r.store.UpdateItem(ctx, item)
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isItemNotFound(err error) bool {
	var nf ItemNotFoundError
	return errors.As(err, &nf)
}

func isBoardNotInitialized(err error) bool {
	var bn BoardNotInitializedError
	return errors.As(err, &bn)
}
