package rewrite

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// eventKey identifies the transaction context inside a request context.
type eventKey struct{}

// Event is the transaction context of one inbound request. Exactly one Event
// exists per transaction; forwarded and included passes reuse it.
//
// An Event is owned by the goroutine serving the request and must not be
// shared with other goroutines.
type Event struct {
	id       string
	req      *http.Request
	resp     http.ResponseWriter
	flow     domain.Flow
	bindings *domain.Bindings
	phase    Phase
	depth    int
	forward  string
	err      error

	// Set by the engine when the event is attached to a request.
	engine    *Engine
	next      http.Handler
	finishers []ports.Finisher
}

var _ ports.InboundRewrite = (*Event)(nil)

// NewEvent creates a transaction context for a raw request/response pair.
// Inbound producers use it to build the events they return.
func NewEvent(w http.ResponseWriter, r *http.Request) *Event {
	return &Event{
		id:       uuid.NewString(),
		req:      r,
		resp:     w,
		flow:     domain.FlowContinue,
		bindings: domain.NewBindings(),
	}
}

// FromContext returns the transaction context attached to ctx, if any.
func FromContext(ctx context.Context) (*Event, bool) {
	ev, ok := ctx.Value(eventKey{}).(*Event)
	return ev, ok && ev != nil
}

func (e *Event) ID() string { return e.id }
func (e *Event) Direction() domain.Direction { return domain.Inbound }
func (e *Event) Request() *http.Request { return e.req }
func (e *Event) Response() http.ResponseWriter { return e.resp }
func (e *Event) Flow() domain.Flow { return e.flow }
func (e *Event) Bindings() *domain.Bindings { return e.bindings }
func (e *Event) Err() error { return e.err }

// Phase returns the lifecycle state the transaction has reached.
func (e *Event) Phase() Phase { return e.phase }

// Depth is 0 for the outermost pass and grows with each forward or include.
func (e *Event) Depth() int { return e.depth }

// ForwardTarget returns the path set by ForwardTo in the current pass.
func (e *Event) ForwardTarget() string { return e.forward }

func (e *Event) Context() context.Context {
	if e.req == nil {
		return context.Background()
	}
	return e.req.Context()
}

// SetFlow changes the flow of the current pass. A terminal flow cannot go
// back to a non-terminal one, and an aborted request stays aborted.
func (e *Event) SetFlow(f domain.Flow) error {
	if err := checkFlow(e.flow, f); err != nil {
		return err
	}
	e.flow = f
	return nil
}

func checkFlow(cur, next domain.Flow) error {
	if cur.Terminal() && !next.Terminal() {
		return domain.ErrFlowRegression
	}
	if cur.Is(domain.FlowAbortRequest) && !next.Is(domain.FlowAbortRequest) {
		return domain.ErrFlowRegression
	}
	return nil
}

// SetRequest replaces the request handle. The transaction context stays
// attached to the new request.
func (e *Event) SetRequest(r *http.Request) {
	if r == nil {
		return
	}
	if cur, ok := FromContext(r.Context()); !ok || cur != e {
		r = r.WithContext(context.WithValue(r.Context(), eventKey{}, e))
	}
	e.req = r
}

func (e *Event) SetResponse(w http.ResponseWriter) {
	if w != nil {
		e.resp = w
	}
}

func (e *Event) ForwardTo(path string) error {
	if path == "" {
		return domain.NewIllegalState("forward", "empty target")
	}
	if err := e.SetFlow(domain.FlowForward); err != nil {
		return err
	}
	e.forward = path
	return nil
}

func (e *Event) Include(path string) error {
	if e.engine == nil {
		return domain.NewIllegalState("include", "event is not attached to an engine")
	}
	r, err := targetRequest(e.req, path)
	if err != nil {
		return err
	}
	if err := e.engine.nested(e, e.resp, r, e.next); err != nil {
		return err
	}
	if e.flow == domain.FlowContinue {
		e.flow = domain.FlowInclude
	}
	return nil
}

// attach binds the event to the engine and to the request context.
func (e *Event) attach(engine *Engine, next http.Handler) {
	e.engine = engine
	e.next = next
	e.SetRequest(e.req)
}

// enterPass starts a nested pass on the same transaction and returns the
// function restoring the outer pass.
func (e *Event) enterPass(w http.ResponseWriter, r *http.Request, next http.Handler) func() {
	req, resp, flow, forward, phase, prev := e.req, e.resp, e.flow, e.forward, e.phase, e.next

	e.depth++
	e.SetRequest(r)
	e.resp = w
	e.next = next
	e.flow = domain.FlowContinue
	e.forward = ""
	e.phase = PhaseStart

	return func() {
		e.depth--
		e.req, e.resp, e.flow, e.forward, e.phase, e.next = req, resp, flow, forward, phase, prev
	}
}

// trackResponse remembers wrapped responses that hold output until the end
// of the transaction.
func (e *Event) trackResponse(w http.ResponseWriter) {
	f, ok := w.(ports.Finisher)
	if !ok {
		return
	}
	for _, known := range e.finishers {
		if known == f {
			return
		}
	}
	e.finishers = append(e.finishers, f)
}

// complete flushes wrapped responses, innermost wrapper last. A failed
// transaction drops their output; an aborted one sends what the rules wrote
// without further transformation.
func (e *Event) complete() error {
	failed := e.err != nil
	aborted := e.flow.Is(domain.FlowAbortRequest)

	var firstErr error
	for i := len(e.finishers) - 1; i >= 0; i-- {
		f := e.finishers[i]
		if failed {
			if d, ok := f.(ports.Discarder); ok {
				d.Discard()
				continue
			}
		}
		finish := f.Finish
		if aborted && !failed {
			if a, ok := f.(ports.AbortFinisher); ok {
				finish = a.FinishAborted
			}
		}
		if err := finish(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.finishers = nil
	return firstErr
}

// targetRequest clones r for a forward or include to target, which may carry
// its own query string.
func targetRequest(r *http.Request, target string) (*http.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, domain.NewIllegalState("dispatch", "invalid target "+target+": "+err.Error())
	}
	if !strings.HasPrefix(u.Path, "/") {
		return nil, domain.NewIllegalState("dispatch", "target must be an absolute path: "+target)
	}

	out := r.Clone(r.Context())
	out.URL.Path = u.Path
	out.URL.RawPath = u.RawPath
	if u.RawQuery != "" {
		out.URL.RawQuery = u.RawQuery
	}
	out.RequestURI = out.URL.RequestURI()
	return out, nil
}
