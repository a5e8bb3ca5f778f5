package domain

import "time"

// Identity describes the authenticated user a feedback item is attributed to.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// FeedbackItem is a single sticky note on a retrospective board. Items are
// stored one document per item, keyed by board.
//
// Grouping is strictly two levels deep: an item with children (a group head)
// never has a parent of its own.
type FeedbackItem struct {
	ID            string    `json:"id"`
	BoardID       string    `json:"boardId"`
	ColumnID      string    `json:"columnId"`
	Title         string    `json:"title"`
	CreatedBy     *Identity `json:"createdBy,omitempty"`
	CreatedDate   time.Time `json:"createdDate"`
	Upvotes       int       `json:"upvotes"`
	ParentID      string    `json:"parentFeedbackItemId,omitempty"`
	ChildIDs      []string  `json:"childFeedbackItemIds,omitempty"`
	ActionItemIDs []int     `json:"associatedActionItemIds,omitempty"`
}

// HasParent reports whether the item is grouped under another item.
func (f *FeedbackItem) HasParent() bool {
	return f.ParentID != ""
}

// IsGroupHead reports whether the item heads a group of child items.
func (f *FeedbackItem) IsGroupHead() bool {
	return len(f.ChildIDs) > 0
}

// AddChild appends id to the child list, materializing the list when the
// item was childless. Duplicate ids are not appended twice.
func (f *FeedbackItem) AddChild(id string) {
	for _, existing := range f.ChildIDs {
		if existing == id {
			return
		}
	}
	if f.ChildIDs == nil {
		f.ChildIDs = []string{}
	}
	f.ChildIDs = append(f.ChildIDs, id)
}

// RemoveChild drops id from the child list, preserving the order of the
// remaining children.
func (f *FeedbackItem) RemoveChild(id string) {
	if len(f.ChildIDs) == 0 {
		return
	}
	kept := f.ChildIDs[:0]
	for _, existing := range f.ChildIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	f.ChildIDs = kept
}

// AddActionItem records an associated work item id. It reports whether the
// id was newly added; adding an id already present is a no-op.
func (f *FeedbackItem) AddActionItem(workItemID int) bool {
	for _, existing := range f.ActionItemIDs {
		if existing == workItemID {
			return false
		}
	}
	if f.ActionItemIDs == nil {
		f.ActionItemIDs = []int{}
	}
	f.ActionItemIDs = append(f.ActionItemIDs, workItemID)
	return true
}

// RemoveActionItem drops an associated work item id and reports whether it
// was present.
func (f *FeedbackItem) RemoveActionItem(workItemID int) bool {
	for i, existing := range f.ActionItemIDs {
		if existing == workItemID {
			f.ActionItemIDs = append(f.ActionItemIDs[:i], f.ActionItemIDs[i+1:]...)
			return true
		}
	}
	return false
}
