package feedback

import (
	"context"

	"retro-api/domain"
	"retro-api/telemetry"
)

// ItemStore abstracts the per-board document store the repository runs on.
type ItemStore interface {
	CreateItem(ctx context.Context, item *domain.FeedbackItem) error
	GetItem(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error)
	ListItems(ctx context.Context, boardID string) ([]domain.FeedbackItem, error)
	UpdateItem(ctx context.Context, item *domain.FeedbackItem) error
	DeleteItem(ctx context.Context, boardID, itemID string) error
}

// ItemNotFoundError is implemented by store errors reporting that an item
// document does not exist.
type ItemNotFoundError interface {
	error
	ItemNotFound()
}

// BoardNotInitializedError is implemented by store errors reporting that a
// board's collection was never created.
type BoardNotInitializedError interface {
	error
	BoardNotInitialized()
}

// IdentityResolver provides the identity of the current caller.
type IdentityResolver interface {
	Current(ctx context.Context) domain.Identity
}

// WorkItemReader looks up items in the external work tracking service.
type WorkItemReader interface {
	GetByIDs(ctx context.Context, ids []int) ([]domain.WorkItem, error)
}

// Telemetry is the side-channel observer for swallowed failures. It must
// never block or fail the caller.
type Telemetry interface {
	TrackTrace(ctx context.Context, kind string, err error, severity telemetry.Severity)
	TrackException(ctx context.Context, err error)
}
