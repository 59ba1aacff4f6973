package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
	"github.com/tjfontaine/polyglot-rewrite/internal/rewrite"
	"github.com/tjfontaine/polyglot-rewrite/internal/rules"
)

func newTracedEngine(t *testing.T, cfg *ports.Configuration) (*rewrite.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.Participants{
		Listeners: []ports.LifecycleListener{NewListener(WithTracerProvider(tp))},
		Providers: []ports.RuleProvider{rules.NewProvider("test", 0, cfg)},
		Inbound:   []ports.InboundProducer{rewrite.NewHTTPInboundProducer()},
	}, logger)

	eng, err := rewrite.New(context.Background(), reg, rewrite.WithLogger(logger))
	if err != nil {
		t.Fatalf("rewrite.New() error = %v", err)
	}
	return eng, sr
}

func attr(s sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestListener_ForwardCreatesChildSpan(t *testing.T) {
	cfg := rules.Begin().
		Define("pretty").When(rules.Path("/p/{id}")).Perform(rules.Forward("/raw?id={id}")).
		Build()
	eng, sr := newTracedEngine(t, cfg)

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	eng.Handler(app).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/p/4", nil))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	// The nested pass ends first.
	inner, outer := spans[0], spans[1]
	if outer.Name() != "rewrite.transaction" || inner.Name() != "rewrite.pass" {
		t.Fatalf("span names = %q, %q", outer.Name(), inner.Name())
	}
	if inner.Parent().SpanID() != outer.SpanContext().SpanID() {
		t.Error("nested pass span is not a child of the transaction span")
	}
	if got := attr(outer, "rewrite.flow"); got != "FORWARD" {
		t.Errorf("outer flow = %q, want FORWARD", got)
	}
	if got := attr(inner, "url.path"); got != "/raw" {
		t.Errorf("inner path = %q, want /raw", got)
	}
	if got := attr(inner, "rewrite.transaction_id"); got != attr(outer, "rewrite.transaction_id") {
		t.Errorf("transaction ids differ: %q vs %q", got, attr(outer, "rewrite.transaction_id"))
	}

	var events []string
	for _, e := range outer.Events() {
		events = append(events, e.Name)
	}
	if len(events) != 2 || events[0] != "rewrite.evaluate" || events[1] != "rewrite.evaluated" {
		t.Errorf("events = %v", events)
	}
}

func TestListener_PropagatesSpanContext(t *testing.T) {
	var opSpan, appSpan trace.SpanID
	capture := ports.OperationFunc(func(ctx context.Context, _ ports.Rewrite) error {
		opSpan = trace.SpanFromContext(ctx).SpanContext().SpanID()
		return nil
	})
	cfg := rules.Begin().Define("capture").Perform(capture).Build()
	eng, sr := newTracedEngine(t, cfg)

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appSpan = trace.SpanFromContext(r.Context()).SpanContext().SpanID()
	})
	eng.Handler(app).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	want := spans[0].SpanContext().SpanID()
	if opSpan != want {
		t.Errorf("operation span = %s, want transaction span %s", opSpan, want)
	}
	if appSpan != want {
		t.Errorf("application span = %s, want transaction span %s", appSpan, want)
	}
}

func TestListener_RecordsErrors(t *testing.T) {
	boom := ports.OperationFunc(func(context.Context, ports.Rewrite) error {
		return errors.New("boom")
	})
	cfg := rules.Begin().Define("boom").Perform(boom).Build()
	eng, sr := newTracedEngine(t, cfg)

	rec := httptest.NewRecorder()
	eng.Handler(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if got := attr(spans[0], "rewrite.rule"); got != "boom" {
		t.Errorf("rule attribute = %q, want boom", got)
	}
	if got := attr(spans[0], "rewrite.phase"); got != "operation" {
		t.Errorf("phase attribute = %q, want operation", got)
	}
}

func TestListener_ForgetsFinishedTransactions(t *testing.T) {
	l := NewListener()
	if l.Priority() != -100 || l.Name() != "tracing" {
		t.Errorf("defaults = %d %q", l.Priority(), l.Name())
	}

	ev := rewrite.NewEvent(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	l.BeforeInboundLifecycle(ev)
	l.BeforeInboundLifecycle(ev)
	l.AfterInboundLifecycle(ev)
	l.AfterInboundLifecycle(ev)
	l.AfterInboundLifecycle(ev)

	if len(l.spans) != 0 {
		t.Errorf("open spans = %d, want 0", len(l.spans))
	}
}
