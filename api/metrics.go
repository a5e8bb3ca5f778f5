package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	itemsSpanName    = "items.request"
	itemsEventName   = "items.request.metrics"
	itemsEventDomain = "retro-api"
)

// itemsRequestMetrics accumulates timings for the board listing route and
// flushes them once, as a single log entry and span event.
type itemsRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	idsRequested   int
	itemsReturned  int
	errorStage     string
}

func newItemsRequestMetrics(ctx context.Context, logger *log.Logger) (*itemsRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer("retro-api/api").Start(ctx, itemsSpanName)
	m := &itemsRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}
	return m, spanCtx
}

func (m *itemsRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *itemsRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *itemsRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *itemsRequestMetrics) SetIDsRequested(count int) {
	if count < 0 {
		count = 0
	}
	m.idsRequested = count
}

func (m *itemsRequestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *itemsRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log flushes the accumulated metrics and ends the span.
func (m *itemsRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	totalMillis := durationToMillis(time.Since(m.start))

	attrs := []attribute.KeyValue{
		attribute.String("event.name", itemsEventName),
		attribute.String("event.domain", itemsEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("http.route", "/api/boards/:boardID/items"),
		attribute.Float64("retro.items.total_ms", totalMillis),
		attribute.Int("retro.items.ids_requested", m.idsRequested),
		attribute.Int("retro.items.items_returned", m.itemsReturned),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("retro.items.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("retro.items.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("retro.items.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("retro.items.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("http.route", "/api/boards/:boardID/items"),
			attribute.Int("http.status_code", status),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("retro.items.error_stage", m.errorStage))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if severityText == "ERROR" {
			desc := m.errorStage
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      itemsEventName,
		"event.domain":    itemsEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
