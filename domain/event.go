package domain

// Board event types emitted after successful item mutations.
const (
	EventItemCreated = "item-created"
	EventItemUpdated = "item-updated"
	EventItemDeleted = "item-deleted"
	EventItemGrouped = "item-grouped"
	EventItemMoved   = "item-moved"
)

// BoardEvent notifies downstream consumers (live board sync, read models)
// that an item on a board changed. Delivery is advisory.
type BoardEvent struct {
	BoardID string `json:"boardId"`
	ItemID  string `json:"itemId"`
	Type    string `json:"type"`
	Time    int64  `json:"time"`
}
