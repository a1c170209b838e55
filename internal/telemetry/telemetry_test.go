package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorded(t *testing.T) (Instrumenter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(
		Config{ServiceName: "restflow-test", Version: "test"},
		WithSpanProcessor(recorder),
	)
	if err != nil {
		t.Fatalf("New instrumenter: %v", err)
	}
	t.Cleanup(func() {
		_ = inst.Shutdown(context.Background())
	})
	return inst, recorder
}

func TestInstrumenterRecordsTimeline(t *testing.T) {
	inst, recorder := newRecorded(t)

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/api/health", nil)
	if err != nil {
		t.Fatalf("build http request: %v", err)
	}

	ctx, span := inst.Start(context.Background(), RequestStart{Name: "health", RequestID: "r1", HTTPRequest: httpReq})
	if ctx == nil || span == nil {
		t.Fatalf("expected span to be created")
	}

	now := time.Now()
	span.RecordTimeline(&Timeline{
		Started:   now.Add(-180 * time.Millisecond),
		Completed: now,
		Phases: []Phase{
			{Kind: "dns", Start: now.Add(-180 * time.Millisecond), End: now.Add(-150 * time.Millisecond)},
			{Kind: "connect", Start: now.Add(-150 * time.Millisecond), End: now.Add(-50 * time.Millisecond), Addr: "93.184.216.34:443", Reused: true},
		},
	})
	span.End(RequestResult{StatusCode: 200})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	ro := spans[0]
	if got := ro.Name(); got != "health" {
		t.Fatalf("unexpected span name %q", got)
	}
	assertAttribute(t, ro, "restflow.trace.duration_ms", int64(180))
	assertAttribute(t, ro, "http.method", "GET")
	assertAttribute(t, ro, "restflow.request.id", "r1")
	if ro.Status().Code != codes.Ok {
		t.Fatalf("expected span status OK, got %v", ro.Status().Code)
	}

	var phaseEvents int
	for _, ev := range ro.Events() {
		if ev.Name == "restflow.trace.phase" {
			phaseEvents++
		}
	}
	if phaseEvents != 2 {
		t.Fatalf("expected 2 phase events, got %d", phaseEvents)
	}
}

func TestInstrumenterMarksFailures(t *testing.T) {
	inst, recorder := newRecorded(t)
	httpReq, _ := http.NewRequest(http.MethodPost, "http://localhost:1/items", nil)

	_, span := inst.Start(context.Background(), RequestStart{HTTPRequest: httpReq})
	span.End(RequestResult{Err: errors.New("connection refused"), FailureKind: "network"})

	_, span = inst.Start(context.Background(), RequestStart{HTTPRequest: httpReq})
	span.End(RequestResult{StatusCode: 503})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "POST localhost:1" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	assertAttribute(t, spans[0], "restflow.failure.kind", "network")
	for _, s := range spans {
		if s.Status().Code != codes.Error {
			t.Fatalf("expected error status, got %v", s.Status())
		}
	}
}

func TestNoopWhenDisabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := inst.(noopInstrumenter); !ok {
		t.Fatalf("expected noop instrumenter, got %T", inst)
	}
}

func assertAttribute(t *testing.T, span sdktrace.ReadOnlySpan, key string, want interface{}) {
	t.Helper()
	for _, attr := range span.Attributes() {
		if string(attr.Key) != key {
			continue
		}
		switch v := want.(type) {
		case string:
			if attr.Value.AsString() == v {
				return
			}
		case bool:
			if attr.Value.AsBool() == v {
				return
			}
		case int64:
			if attr.Value.AsInt64() == v {
				return
			}
		}
		t.Fatalf("attribute %s mismatch: got %v, want %v", key, attr.Value, want)
	}
	t.Fatalf("attribute %s not found", key)
}
