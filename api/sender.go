package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

// EventSender pushes board change events to the event sink off the request
// path. Publishing hands the batch to a bounded worker pool; when the buffer
// stays full past the handoff timeout the batch is dropped with a warning,
// never blocking the response. Events are a change signal, not a ledger.
type EventSender struct {
	sink    EventSink
	logger  *log.Logger
	jobs    chan []domain.BoardEvent
	wg      sync.WaitGroup
	timeout time.Duration
	handoff time.Duration

	closeOnce sync.Once
}

// NewEventSender starts the worker pool. Pool sizing comes from EVENT_WORKERS,
// EVENT_BUFFER, EVENT_TIMEOUT and EVENT_HANDOFF_TIMEOUT.
func NewEventSender(sink EventSink, logger *log.Logger) *EventSender {
	if logger == nil {
		panic("Logger is not initialized")
	}

	s := &EventSender{
		sink:    sink,
		logger:  logger,
		timeout: envDur("EVENT_TIMEOUT", 30*time.Second),
		handoff: envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	workers := envInt("EVENT_WORKERS", 8)
	buffer := envInt("EVENT_BUFFER", 1024)

	s.jobs = make(chan []domain.BoardEvent, buffer)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buffer, s.timeout, s.handoff)
	return s
}

func (s *EventSender) worker(id int) {
	defer s.wg.Done()
	for events := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.sink.EnqueueEvents(ctx, events)
		cancel()

		if err != nil {
			s.logger.Errorf("event enqueue failed, err: %v, count: %d, worker: %d", err, len(events), id)
		}
	}
}

// Publish hands the events to the pool. It reports whether the batch was
// accepted; a saturated buffer drops the batch.
func (s *EventSender) Publish(events ...domain.BoardEvent) bool {
	if s == nil || len(events) == 0 {
		return false
	}

	select {
	case s.jobs <- events:
		return true
	default:
	}

	if s.handoff <= 0 {
		s.logger.Warnf("event buffer saturated, dropping %d events", len(events))
		return false
	}

	timer := time.NewTimer(s.handoff)
	defer timer.Stop()

	select {
	case s.jobs <- events:
		return true
	case <-timer.C:
		s.logger.Warnf("event buffer saturated, dropping %d events", len(events))
		return false
	}
}

// Close stops accepting events and waits for in-flight batches to drain.
func (s *EventSender) Close() {
	s.closeOnce.Do(func() {
		close(s.jobs)
	})
	s.wg.Wait()
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}
