// Package rewrite implements the rewrite engine: the per-transaction context,
// the rule evaluator and the lifecycle dispatcher that sits in front of the
// application handler.
//
// A transaction moves through START, WRAPPED, EVALUATED,
// DISPATCHED_OR_ABORTED, RESULT_HANDLED and END. Rules marking the flow
// HANDLED stop evaluation and skip the application; ABORT_REQUEST also drops
// any output held by wrapped responses.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
)

// DefaultMaxDepth bounds forward and include nesting.
const DefaultMaxDepth = 16

// ErrPanic wraps the value of a panic raised by a participant, a rule or the
// application. Listeners see it through Err before the panic continues.
var ErrPanic = errors.New("panic during transaction")

// ErrorHandler writes the response for a transaction that failed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Engine drives transactions through the participants of a Registry.
// It is safe for concurrent use.
type Engine struct {
	reg       *registry.Registry
	evaluator *Evaluator
	logger    *slog.Logger
	onError   ErrorHandler
	env       ports.Environment
	maxDepth  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithErrorHandler replaces the default error response.
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Engine) {
		if h != nil {
			e.onError = h
		}
	}
}

// WithEnvironment sets the environment handed to rule providers.
func WithEnvironment(env ports.Environment) Option {
	return func(e *Engine) {
		e.env = env
	}
}

// WithMaxDepth bounds how many forwards and includes a transaction may nest.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// New builds an engine and loads the configuration of every provider that
// does not reload. A provider failing to load is a boot error.
func New(ctx context.Context, reg *registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	e := &Engine{
		reg:      reg,
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.env.Logger == nil {
		e.env.Logger = e.logger
	}
	if e.onError == nil {
		e.onError = defaultErrorHandler(e.logger)
	}

	sources, err := newSources(ctx, reg.Providers(), e.env)
	if err != nil {
		return nil, fmt.Errorf("load rule configurations: %w", err)
	}
	e.evaluator = &Evaluator{sources: sources, env: e.env, logger: e.logger}

	return e, nil
}

// Registry returns the participants the engine runs.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Evaluator returns the rule evaluator shared by inbound and outbound rewrites.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// Handler returns middleware running every request through the engine.
// Errors go to the configured ErrorHandler.
func (e *Engine) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := e.Process(w, r, next); err != nil {
			e.onError(w, r, err)
		}
	})
}

// Process runs one transaction. When the request already carries a
// transaction of this engine the pass is nested into it.
func (e *Engine) Process(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	if ev, ok := FromContext(r.Context()); ok && ev.engine == e {
		return e.nested(ev, w, r, next)
	}

	ev := e.produce(w, r)
	if ev == nil {
		e.logger.Debug("no inbound event produced, engine inactive for this transaction",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
		return nil
	}

	ev.attach(e, next)
	return e.lifecycle(ev)
}

func (e *Engine) produce(w http.ResponseWriter, r *http.Request) *Event {
	for _, p := range e.reg.Inbound() {
		rw := p.Produce(w, r)
		if rw == nil {
			continue
		}
		ev, ok := rw.(*Event)
		if !ok || ev == nil {
			e.logger.Warn("inbound producer returned an event not built by rewrite.NewEvent, ignoring",
				slog.String("producer", registry.NameOf(p)),
				slog.String("type", fmt.Sprintf("%T", rw)))
			continue
		}
		return ev
	}
	return nil
}

// nested runs a forwarded or included pass on the same transaction.
func (e *Engine) nested(ev *Event, w http.ResponseWriter, r *http.Request, next http.Handler) error {
	if ev.depth >= e.maxDepth {
		return domain.NewIllegalState("dispatch", fmt.Sprintf("more than %d nested passes", e.maxDepth))
	}
	restore := ev.enterPass(w, r, next)
	defer restore()

	return e.lifecycle(ev)
}

func (e *Engine) lifecycle(ev *Event) (err error) {
	listeners := e.reg.Listeners()

	ev.phase = PhaseStart
	for _, l := range listeners {
		if l.Handles(ev) {
			l.BeforeInboundLifecycle(ev)
		}
	}

	defer func() {
		rec := recover()
		if rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
		if err != nil && ev.err == nil {
			ev.err = err
		}
		for _, l := range listeners {
			if l.Handles(ev) {
				l.AfterInboundLifecycle(ev)
			}
		}
		ev.phase = PhaseEnd

		if ev.depth == 0 {
			if ferr := ev.complete(); ferr != nil && err == nil {
				err = fmt.Errorf("finish response: %w", ferr)
			}
		}
		if errors.Is(err, domain.ErrFlowRegression) {
			e.logger.Warn("rule tried to leave a terminal flow",
				slog.String("transaction_id", ev.ID()),
				slog.String("flow", ev.Flow().String()))
		}
		if rec != nil {
			panic(rec)
		}
	}()

	if err := e.wrap(ev); err != nil {
		return err
	}
	ev.phase = PhaseWrapped

	for _, l := range listeners {
		if l.Handles(ev) {
			l.BeforeInboundRewrite(ev)
		}
	}
	if err := e.evaluator.Evaluate(ev.Context(), ev); err != nil {
		return err
	}
	ev.phase = PhaseEvaluated
	for _, l := range listeners {
		if l.Handles(ev) {
			l.AfterInboundRewrite(ev)
		}
	}

	if err := e.dispatch(ev); err != nil {
		return err
	}
	ev.phase = PhaseDispatchedOrAborted

	for _, h := range e.reg.ResultHandlers() {
		if h.Handles(ev) {
			h.HandleResult(ev)
		}
	}
	ev.phase = PhaseResultHandled

	return nil
}

// wrap applies the wrappers cumulatively: each one wraps the handles
// produced by the previous one.
func (e *Engine) wrap(ev *Event) error {
	for _, wr := range e.reg.Wrappers() {
		if !wr.Handles(ev) {
			continue
		}

		r, err := wr.WrapRequest(ev.Request(), ev.Response())
		if err != nil {
			return fmt.Errorf("wrap request with %s: %w", registry.NameOf(wr), err)
		}
		ev.SetRequest(r)

		w, err := wr.WrapResponse(ev.Request(), ev.Response())
		if err != nil {
			return fmt.Errorf("wrap response with %s: %w", registry.NameOf(wr), err)
		}
		ev.SetResponse(w)
		ev.trackResponse(ev.Response())
	}
	return nil
}

func (e *Engine) dispatch(ev *Event) error {
	flow := ev.Flow()
	attrs := []any{
		slog.String("transaction_id", ev.ID()),
		slog.String("path", ev.Request().URL.Path),
	}

	switch {
	case flow.Is(domain.FlowAbortRequest):
		e.logger.Debug("request aborted, no further processing will occur", attrs...)
		return nil

	case flow.Is(domain.FlowForward):
		target := ev.ForwardTarget()
		e.logger.Debug("forwarding request", append(attrs, slog.String("target", target))...)
		r, err := targetRequest(ev.Request(), target)
		if err != nil {
			return err
		}
		return e.nested(ev, ev.Response(), r, ev.next)

	case flow.Is(domain.FlowHandled):
		e.logger.Debug("event flow marked as HANDLED, no further processing will occur", attrs...)
		return nil
	}

	ev.next.ServeHTTP(ev.Response(), ev.Request())
	return nil
}

func defaultErrorHandler(logger *slog.Logger) ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		attrs := []any{
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		}
		var ee *domain.EvaluationError
		if errors.As(err, &ee) {
			attrs = append(attrs,
				slog.String("provider", ee.Provider),
				slog.String("rule", ee.Rule),
				slog.String("phase", ee.Phase))
		}
		logger.Error("rewrite failed", attrs...)

		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
