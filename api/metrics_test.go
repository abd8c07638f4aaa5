package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestMetricsLogProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, http.MethodGet, "/api/tasks")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.ObserveStore(15 * time.Millisecond)
	metrics.SetItemsReturned(3, true)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != observabilityEvent {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if got := entry.Data["event.name"]; got != requestEventName {
		t.Fatalf("unexpected event name: %v", got)
	}
	if got := entry.Data["event.domain"]; got != requestEventDomain {
		t.Fatalf("unexpected event domain: %v", got)
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["http.route"] != "/api/tasks" {
		t.Fatalf("unexpected route attribute: %#v", attrs["http.route"])
	}
	if attrs[requestAttrPrefix+"items_returned"] != int64(3) {
		t.Fatalf("unexpected items returned: %#v", attrs[requestAttrPrefix+"items_returned"])
	}
	if attrs[requestAttrPrefix+"has_next_page"] != true {
		t.Fatalf("expected has_next_page true")
	}
	if total, ok := attrs[requestAttrPrefix+"total_ms"].(float64); !ok || total < 50 {
		t.Fatalf("expected total duration attribute, got %#v", attrs[requestAttrPrefix+"total_ms"])
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v/%v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if code, ok := spanAttrs["http.status_code"].(int64); !ok || code != int64(http.StatusOK) {
		t.Fatalf("unexpected http.status_code on span: %#v", spanAttrs["http.status_code"])
	}
	if _, exists := spanAttrs[requestAttrPrefix+"error_stage"]; exists {
		t.Fatalf("expected no error stage")
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}

	event := findEvent(span.Events, observabilityEvent)
	if event.Name == "" {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
	eventAttrs := attributesToMap(event.Attributes)
	if eventAttrs["event.name"] != requestEventName || eventAttrs["severity_text"] != "INFO" {
		t.Fatalf("unexpected span event attributes: %#v", eventAttrs)
	}
}

func TestRequestMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, http.MethodGet, "/api/tasks")
	metrics.SetErrorStage("storage")
	boom := errors.New("storage failure")

	metrics.Log(http.StatusInternalServerError, boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error level entry, got %+v", entry)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error || span.Status.Description == "" {
		t.Fatalf("expected span status error, got %+v", span.Status)
	}
	attrs := attributesToMap(findEvent(span.Events, observabilityEvent).Attributes)
	if attrs["severity_text"] != "ERROR" {
		t.Fatalf("unexpected severity_text for error: %#v", attrs["severity_text"])
	}
	if attrs[requestAttrPrefix+"error_stage"] != "storage" {
		t.Fatalf("expected error stage attribute propagated, got %#v", attrs[requestAttrPrefix+"error_stage"])
	}
	if attrs["error.message"] != boom.Error() {
		t.Fatalf("expected error.message attribute, got %#v", attrs["error.message"])
	}
}

func TestObserveRecordsRenderedStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter, restore := setupTestTracer(t)
	defer restore()

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(Observe(logger))
	e.GET("/api/tasks/:id", func(echo.Context) error {
		return &Problem{Status: http.StatusNotFound, Title: "Not found"}
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warn entry, got %+v", entry)
	}
	attrs := entry.Data["attributes"].(map[string]any)
	if attrs["http.route"] != "/api/tasks/:id" || attrs["http.status_code"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected attributes %#v", attrs)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Ok {
		t.Fatalf("client errors should not fail the span: %+v", spans)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "warnWithErr", status: http.StatusConflict, err: assertErr{}, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: assertErr{}, wantText: "ERROR", wantNumber: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *requestMetrics
	m.ObserveAuth(time.Second)
	m.ObserveStore(time.Second)
	m.SetItemsReturned(1, false)
	m.SetErrorStage("x")
	m.Log(http.StatusOK, nil)
}

type assertErr struct{}

func (assertErr) Error() string { return "error" }

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func findEvent(events []sdktrace.Event, name string) sdktrace.Event {
	for _, ev := range events {
		if ev.Name == name {
			return ev
		}
	}
	return sdktrace.Event{}
}
