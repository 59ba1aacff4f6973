package telemetry

import (
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

const instrumentationName = "github.com/tjfontaine/polyglot-rewrite/internal/telemetry"

// Listener records one span per engine pass. Forwarded and included passes
// become child spans of the pass that started them.
type Listener struct {
	tracer   trace.Tracer
	priority int

	mu    sync.Mutex
	spans map[ports.InboundRewrite][]trace.Span
}

var _ ports.LifecycleListener = (*Listener)(nil)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) ListenerOption {
	return func(l *Listener) {
		if tp != nil {
			l.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithPriority sets the listener priority. Defaults to -100 so the span
// surrounds the other listeners.
func WithPriority(p int) ListenerOption {
	return func(l *Listener) { l.priority = p }
}

func NewListener(opts ...ListenerOption) *Listener {
	l := &Listener{
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
		priority: -100,
		spans:    make(map[ports.InboundRewrite][]trace.Span),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Name() string { return "tracing" }
func (l *Listener) Priority() int { return l.priority }
func (l *Listener) Handles(ports.Rewrite) bool { return true }

func (l *Listener) BeforeInboundLifecycle(rw ports.InboundRewrite) {
	l.mu.Lock()
	stack := l.spans[rw]
	l.mu.Unlock()

	ctx := rw.Context()
	name := "rewrite.transaction"
	if len(stack) > 0 {
		ctx = trace.ContextWithSpan(ctx, stack[len(stack)-1])
		name = "rewrite.pass"
	}

	r := rw.Request()
	spanCtx, span := l.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rewrite.transaction_id", rw.ID()),
			attribute.String("rewrite.direction", string(rw.Direction())),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.Int("rewrite.depth", len(stack)),
		))
	rw.SetRequest(r.WithContext(spanCtx))

	l.mu.Lock()
	l.spans[rw] = append(stack, span)
	l.mu.Unlock()
}

func (l *Listener) BeforeInboundRewrite(rw ports.InboundRewrite) {
	if span := l.current(rw); span != nil {
		span.AddEvent("rewrite.evaluate")
	}
}

func (l *Listener) AfterInboundRewrite(rw ports.InboundRewrite) {
	if span := l.current(rw); span != nil {
		span.AddEvent("rewrite.evaluated", trace.WithAttributes(
			attribute.String("rewrite.flow", rw.Flow().String()),
		))
	}
}

func (l *Listener) AfterInboundLifecycle(rw ports.InboundRewrite) {
	l.mu.Lock()
	stack := l.spans[rw]
	if len(stack) == 0 {
		l.mu.Unlock()
		return
	}
	span := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(l.spans, rw)
	} else {
		l.spans[rw] = stack[:len(stack)-1]
	}
	l.mu.Unlock()

	span.SetAttributes(attribute.String("rewrite.flow", rw.Flow().String()))
	if err := rw.Err(); err != nil {
		var ee *domain.EvaluationError
		if errors.As(err, &ee) {
			span.SetAttributes(
				attribute.String("rewrite.provider", ee.Provider),
				attribute.String("rewrite.rule", ee.Rule),
				attribute.String("rewrite.phase", ee.Phase),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (l *Listener) current(rw ports.InboundRewrite) trace.Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	stack := l.spans[rw]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}
