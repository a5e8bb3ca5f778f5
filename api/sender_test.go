package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"retro-api/domain"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (s *blockingSink) EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += len(events)
	return nil
}

func (s *blockingSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestEventSenderDeliversEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &blockingSink{}
	sender := NewEventSender(sink, logger)

	if !sender.Publish(domain.BoardEvent{BoardID: "b", ItemID: "i", Type: domain.EventItemCreated}) {
		t.Fatal("expected publish to be accepted")
	}
	sender.Close()

	if sink.delivered() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", sink.delivered())
	}
}

func TestEventSenderDropsOnSaturation(t *testing.T) {
	t.Setenv("EVENT_WORKERS", "1")
	t.Setenv("EVENT_BUFFER", "1")
	t.Setenv("EVENT_HANDOFF_TIMEOUT", "1ms")

	logger, hook := test.NewNullLogger()
	sink := &blockingSink{release: make(chan struct{})}
	sender := NewEventSender(sink, logger)

	// First batch occupies the worker, second fills the buffer.
	sender.Publish(domain.BoardEvent{BoardID: "b", ItemID: "1", Type: domain.EventItemCreated})
	deadline := time.Now().Add(200 * time.Millisecond)
	accepted := false
	for time.Now().Before(deadline) {
		if sender.Publish(domain.BoardEvent{BoardID: "b", ItemID: "2", Type: domain.EventItemCreated}) {
			accepted = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !accepted {
		t.Fatal("expected second publish to fill the buffer")
	}

	if sender.Publish(domain.BoardEvent{BoardID: "b", ItemID: "3", Type: domain.EventItemCreated}) {
		t.Fatal("expected publish against a saturated buffer to be dropped")
	}
	if entry := hook.LastEntry(); entry == nil {
		t.Fatal("expected a drop warning to be logged")
	}

	close(sink.release)
	sender.Close()

	if sink.delivered() != 2 {
		t.Fatalf("expected 2 delivered events, got %d", sink.delivered())
	}
}

func TestEventSenderEmptyPublishRejected(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sender := NewEventSender(&blockingSink{}, logger)
	t.Cleanup(sender.Close)

	if sender.Publish() {
		t.Fatal("expected empty publish to be rejected")
	}
}

func TestEventSenderLogsSinkFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sender := NewEventSender(failingSink{}, logger)

	sender.Publish(domain.BoardEvent{BoardID: "b", ItemID: "1", Type: domain.EventItemDeleted})
	sender.Close()

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Message != "" && entry.Level.String() == "error" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an error log for the failed enqueue")
	}
}

type failingSink struct{}

func (failingSink) EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error {
	return errors.New("queue unavailable")
}
