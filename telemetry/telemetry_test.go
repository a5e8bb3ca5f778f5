package telemetry

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func TestTrackTraceLogsFieldsAndSpanEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter := setupTestTracer(t)

	tracker := New(logger)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	boom := errors.New("collection missing")
	tracker.TrackTrace(ctx, "board-not-initialized", boom, SeverityWarning)
	span.End()

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level != log.WarnLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if entry.Data["kind"] != "board-not-initialized" {
		t.Fatalf("unexpected kind: %v", entry.Data["kind"])
	}
	if entry.Data["severity_number"] != 13 {
		t.Fatalf("unexpected severity number: %v", entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	var found bool
	for _, ev := range spans[0].Events {
		if ev.Name == "observability.event" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected observability.event on span, got %#v", spans[0].Events)
	}
}

func TestTrackTraceWithoutSpanStillLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tracker := New(logger)

	tracker.TrackTrace(context.Background(), "item-missing", nil, SeverityInfo)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if _, ok := entry.Data["trace_id"]; ok {
		t.Fatal("did not expect a trace id without an active span")
	}
	if _, ok := entry.Data["error"]; ok {
		t.Fatal("did not expect an error field")
	}
}

func TestTrackExceptionRecordsSpanError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter := setupTestTracer(t)

	tracker := New(logger)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	tracker.TrackException(ctx, errors.New("read failed"))
	span.End()

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected an error log entry, got %#v", entry)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	var recorded bool
	for _, ev := range spans[0].Events {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatalf("expected recorded error event, got %#v", spans[0].Events)
	}
}

func TestTrackerToleratesNilReceiverAndError(t *testing.T) {
	var tracker *Tracker
	tracker.TrackTrace(context.Background(), "kind", nil, SeverityInfo)
	tracker.TrackException(context.Background(), errors.New("x"))

	New(nil).TrackException(context.Background(), nil)
}
