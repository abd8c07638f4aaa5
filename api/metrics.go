package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "taskhub/api"
	requestSpanName     = "taskhub.http.request"
	requestEventName    = "http.request.completed"
	requestEventDomain  = "taskhub.api"
	observabilityEvent  = "observability.event"
	metricsKey          = "request_metrics"
	requestAttrPrefix   = "taskhub.request."
	severityInfoNumber  = 9
	severityWarnNumber  = 13
	severityErrorNumber = 17
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	method        string
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	itemsReturned int
	itemsSet      bool
	hasNextPage   bool
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	// The global provider may be swapped after init, so resolve it per request.
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	spanCtx, span := tracer.Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		method: method,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration = d
}

func (m *requestMetrics) SetItemsReturned(count int, hasNext bool) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
	m.itemsSet = true
	m.hasNextPage = hasNext
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) attributes(status int, total float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64(requestAttrPrefix+"total_ms", total),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(requestAttrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64(requestAttrPrefix+"store_ms", durationToMillis(m.storeDuration)))
	}
	if m.itemsSet {
		attrs = append(attrs,
			attribute.Int(requestAttrPrefix+"items_returned", m.itemsReturned),
			attribute.Bool(requestAttrPrefix+"has_next_page", m.hasNextPage),
		)
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(requestAttrPrefix+"error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the request span and emits one observability.event both as a span
// event and as a log entry.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))
	attrs := m.attributes(status, total)
	sevText, sevNumber := severityForStatus(status, err)

	eventAttrs := make([]attribute.KeyValue, 0, len(attrs)+5)
	eventAttrs = append(eventAttrs,
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
	)
	eventAttrs = append(eventAttrs, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		if sevNumber >= severityErrorNumber {
			desc := http.StatusText(status)
			if err != nil {
				m.span.RecordError(err)
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
	attrMap := make(map[string]any, len(attrs)+1)
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   sevText,
		"severity_number": sevNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error.message"] = err.Error()
	}

	entry := m.logger.WithFields(fields)
	switch sevNumber {
	case severityErrorNumber:
		entry.Error(observabilityEvent)
	case severityWarnNumber:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityErrorNumber
	case status >= http.StatusBadRequest:
		return "WARN", severityWarnNumber
	case err != nil:
		return "ERROR", severityErrorNumber
	default:
		return "INFO", severityInfoNumber
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// Observe traces and logs every request. Handler errors are rendered here so
// the recorded status matches what the client received.
func Observe(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsKey, m)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.Log(c.Response().Status, err)
			return nil
		}
	}
}
