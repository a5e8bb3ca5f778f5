package telemetry

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Severity classifies a trace for the operational log.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARN"
	SeverityError   Severity = "ERROR"
)

// Number returns the OpenTelemetry log severity number for the level.
func (s Severity) Number() int {
	switch s {
	case SeverityError:
		return 17
	case SeverityWarning:
		return 13
	default:
		return 9
	}
}

// Tracker reports traces and exceptions to the operational log and, when a
// recording span is on the context, to the active trace. Calls never block
// the caller and never fail.
type Tracker struct {
	logger *log.Logger
	tracer trace.Tracer
}

// New creates a Tracker writing through the provided logger.
func New(logger *log.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		tracer: otel.Tracer("retro-api/telemetry"),
	}
}

// TrackTrace records a classified trace event.
func (t *Tracker) TrackTrace(ctx context.Context, kind string, err error, severity Severity) {
	if t == nil {
		return
	}

	fields := log.Fields{
		"kind":            kind,
		"severity_text":   string(severity),
		"severity_number": severity.Number(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if span.IsRecording() {
		attrs := []attribute.KeyValue{
			attribute.String("event.name", kind),
			attribute.String("severity_text", string(severity)),
			attribute.Int("severity_number", severity.Number()),
		}
		if err != nil {
			attrs = append(attrs, attribute.String("error.message", err.Error()))
		}
		span.AddEvent("observability.event", trace.WithAttributes(attrs...))
	}

	if t.logger == nil {
		return
	}
	entry := t.logger.WithFields(fields)
	switch severity {
	case SeverityError:
		entry.Error(kind)
	case SeverityWarning:
		entry.Warn(kind)
	default:
		entry.Info(kind)
	}
}

// TrackException records an unexpected error.
func (t *Tracker) TrackException(ctx context.Context, err error) {
	if t == nil || err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}

	if t.logger == nil {
		return
	}
	fields := log.Fields{"severity_text": string(SeverityError), "severity_number": SeverityError.Number()}
	if sc := span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
	}
	t.logger.WithFields(fields).WithError(err).Error("exception")
}
