package api

import (
	"context"

	"retro-api/domain"
	"retro-api/feedback"
)

// Repository abstracts the feedback item operations the handlers expose.
type Repository interface {
	Create(ctx context.Context, boardID, title, columnID string, anonymous bool) (*domain.FeedbackItem, error)
	Get(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error)
	ListForBoard(ctx context.Context, boardID string) ([]domain.FeedbackItem, error)
	ListByIDs(ctx context.Context, boardID string, ids []string) ([]domain.FeedbackItem, error)
	Delete(ctx context.Context, boardID, itemID string) (*feedback.DeleteResult, error)
	IncrementUpvote(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error)
	UpdateTitle(ctx context.Context, boardID, itemID, title string) (*domain.FeedbackItem, error)
	AdoptAsChild(ctx context.Context, boardID, parentID, childID string) (*feedback.GroupResult, error)
	DetachToColumn(ctx context.Context, boardID, itemID, newColumnID string) (*feedback.DetachResult, error)
	AddAssociatedActionItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error)
	RemoveAssociatedActionItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error)
	GetAssociatedActionItemIDs(ctx context.Context, boardID, itemID string) ([]int, error)
	ReconcileWorkItem(ctx context.Context, boardID, itemID string, workItemID int) (*domain.FeedbackItem, error)
}

// ItemNotFoundError is returned by the repository when an item document does
// not exist.
type ItemNotFoundError interface {
	error
	ItemNotFound()
}

// Authenticator is implemented by types able to resolve caller identities
// from Authorization headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// EventSink receives board change events for downstream consumers.
type EventSink interface {
	EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error
}
