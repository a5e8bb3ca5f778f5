package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"retro-api/domain"
)

// Service error codes surfaced by the table service. A board's partition
// lives in a lazily created table, so a listing against a deployment that
// has never written reports tableNotFound rather than an empty page.
const (
	codeTableNotFound      = "TableNotFound"
	codeTableAlreadyExists = "TableAlreadyExists"
	codeEntityNotFound     = "EntityNotFound"
	codeResourceNotFound   = "ResourceNotFound"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 8
	maxQueueConcurrency     = 32
)

// NotFoundError reports that an item document does not exist.
type NotFoundError struct {
	BoardID string
	ItemID  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("feedback item %s not found on board %s", e.ItemID, e.BoardID)
}

// ItemNotFound marks the error for interface-based matching by consumers.
func (e NotFoundError) ItemNotFound() {}

// BoardNotInitializedError reports that the board's backing collection has
// never been created. Distinct from an empty board listing.
type BoardNotInitializedError struct {
	BoardID string
}

func (e BoardNotInitializedError) Error() string {
	return fmt.Sprintf("board %s has no item collection yet", e.BoardID)
}

// BoardNotInitialized marks the error for interface-based matching by consumers.
func (e BoardNotInitializedError) BoardNotInitialized() {}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Store persists feedback item documents in the table service, one entity
// per item with PartitionKey = board id and RowKey = item id, and publishes
// board change events to a queue.
type Store struct {
	items            *aztables.Client
	eventQueue       queueClient
	queueConcurrency int
}

// New creates a Store instance from the given connection string.
func New(connStr, itemsTable, eventsQueue string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{
		items:            svc.NewClient(itemsTable),
		eventQueue:       eq,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
	}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

type itemEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	ColumnID      string `json:"ColumnId"`
	CreatedBy     string `json:"CreatedBy"`
	CreatedDate   string `json:"CreatedDate"`
	Upvotes       int    `json:"Upvotes"`
	ParentID      string `json:"ParentId"`
	ChildIDs      string `json:"ChildIds"`
	ActionItemIDs string `json:"ActionItemIds"`
}

func encodeItem(item *domain.FeedbackItem) ([]byte, error) {
	ent := itemEntity{
		Entity: aztables.Entity{
			PartitionKey: item.BoardID,
			RowKey:       item.ID,
		},
		Title:       item.Title,
		ColumnID:    item.ColumnID,
		CreatedDate: item.CreatedDate.UTC().Format(time.RFC3339Nano),
		Upvotes:     item.Upvotes,
		ParentID:    item.ParentID,
	}
	if item.CreatedBy != nil {
		data, err := json.Marshal(item.CreatedBy)
		if err != nil {
			return nil, err
		}
		ent.CreatedBy = string(data)
	}
	if len(item.ChildIDs) > 0 {
		data, err := json.Marshal(item.ChildIDs)
		if err != nil {
			return nil, err
		}
		ent.ChildIDs = string(data)
	}
	if len(item.ActionItemIDs) > 0 {
		data, err := json.Marshal(item.ActionItemIDs)
		if err != nil {
			return nil, err
		}
		ent.ActionItemIDs = string(data)
	}
	return json.Marshal(ent)
}

func decodeItemEntity(data []byte) (domain.FeedbackItem, error) {
	var ent itemEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.FeedbackItem{}, err
	}
	item := domain.FeedbackItem{
		ID:       ent.RowKey,
		BoardID:  ent.PartitionKey,
		ColumnID: ent.ColumnID,
		Title:    ent.Title,
		Upvotes:  ent.Upvotes,
		ParentID: ent.ParentID,
	}
	if ent.CreatedDate != "" {
		created, err := time.Parse(time.RFC3339Nano, ent.CreatedDate)
		if err != nil {
			return domain.FeedbackItem{}, err
		}
		item.CreatedDate = created
	}
	if ent.CreatedBy != "" {
		var identity domain.Identity
		if err := json.Unmarshal([]byte(ent.CreatedBy), &identity); err != nil {
			return domain.FeedbackItem{}, err
		}
		item.CreatedBy = &identity
	}
	if ent.ChildIDs != "" {
		if err := json.Unmarshal([]byte(ent.ChildIDs), &item.ChildIDs); err != nil {
			return domain.FeedbackItem{}, err
		}
	}
	if ent.ActionItemIDs != "" {
		if err := json.Unmarshal([]byte(ent.ActionItemIDs), &item.ActionItemIDs); err != nil {
			return domain.FeedbackItem{}, err
		}
	}
	return item, nil
}

// CreateItem inserts a new item document. The backing table is created
// lazily on the first write.
func (s *Store) CreateItem(ctx context.Context, item *domain.FeedbackItem) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	_, err = s.items.AddEntity(ctx, data, nil)
	if hasErrorCode(err, codeTableNotFound) {
		if _, cerr := s.items.CreateTable(ctx, nil); cerr != nil && !hasErrorCode(cerr, codeTableAlreadyExists) {
			return cerr
		}
		_, err = s.items.AddEntity(ctx, data, nil)
	}
	return err
}

// GetItem retrieves a single item document.
func (s *Store) GetItem(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error) {
	resp, err := s.items.GetEntity(ctx, boardID, itemID, nil)
	if err != nil {
		if hasErrorCode(err, codeEntityNotFound, codeResourceNotFound, codeTableNotFound) {
			return nil, NotFoundError{BoardID: boardID, ItemID: itemID}
		}
		return nil, err
	}
	item, err := decodeItemEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems retrieves every item document on a board, in listing order.
func (s *Store) ListItems(ctx context.Context, boardID string) ([]domain.FeedbackItem, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	pager := s.items.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.FeedbackItem{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			if hasErrorCode(err, codeTableNotFound) {
				return nil, BoardNotInitializedError{BoardID: boardID}
			}
			return nil, err
		}
		for _, raw := range resp.Entities {
			item, err := decodeItemEntity(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// UpdateItem replaces an existing item document in full.
func (s *Store) UpdateItem(ctx context.Context, item *domain.FeedbackItem) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	_, err = s.items.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if hasErrorCode(err, codeEntityNotFound, codeResourceNotFound, codeTableNotFound) {
		return NotFoundError{BoardID: item.BoardID, ItemID: item.ID}
	}
	return err
}

// DeleteItem removes an item document.
func (s *Store) DeleteItem(ctx context.Context, boardID, itemID string) error {
	_, err := s.items.DeleteEntity(ctx, boardID, itemID, nil)
	if hasErrorCode(err, codeEntityNotFound, codeResourceNotFound, codeTableNotFound) {
		return NotFoundError{BoardID: boardID, ItemID: itemID}
	}
	return err
}

// EnqueueEvents publishes board change events to the event queue. Sends fan
// out up to the configured concurrency; the first failure is returned after
// in-flight sends finish.
func (s *Store) EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error {
	if len(events) == 0 {
		return nil
	}
	concurrency := s.queueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, len(events))
	var wg sync.WaitGroup
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(payload string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.eventQueue.EnqueueMessage(ctx, payload, nil); err != nil {
				errCh <- err
			}
		}(string(data))
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func hasErrorCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, code := range codes {
		if respErr.ErrorCode == code {
			return true
		}
	}
	return false
}
