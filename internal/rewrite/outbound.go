package rewrite

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// OutboundEvent is the rewrite of one URL produced by the application.
// Inside an inbound transaction it shares the transaction id and bindings.
type OutboundEvent struct {
	id       string
	req      *http.Request
	url      string
	flow     domain.Flow
	bindings *domain.Bindings
}

var _ ports.OutboundRewrite = (*OutboundEvent)(nil)

// NewOutboundEvent creates an outbound rewrite of url for request r.
func NewOutboundEvent(r *http.Request, url string) *OutboundEvent {
	out := &OutboundEvent{
		req:  r,
		url:  url,
		flow: domain.FlowContinue,
	}
	if r != nil {
		if ev, ok := FromContext(r.Context()); ok {
			out.id = ev.ID()
			out.bindings = ev.Bindings()
		}
	}
	if out.id == "" {
		out.id = uuid.NewString()
	}
	if out.bindings == nil {
		out.bindings = domain.NewBindings()
	}
	return out
}

func (o *OutboundEvent) ID() string { return o.id }
func (o *OutboundEvent) Direction() domain.Direction { return domain.Outbound }
func (o *OutboundEvent) Request() *http.Request { return o.req }
func (o *OutboundEvent) Flow() domain.Flow { return o.flow }
func (o *OutboundEvent) Bindings() *domain.Bindings { return o.bindings }
func (o *OutboundEvent) URL() string { return o.url }
func (o *OutboundEvent) SetURL(url string) { o.url = url }

func (o *OutboundEvent) Context() context.Context {
	if o.req == nil {
		return context.Background()
	}
	return o.req.Context()
}

func (o *OutboundEvent) SetFlow(f domain.Flow) error {
	if err := checkFlow(o.flow, f); err != nil {
		return err
	}
	o.flow = f
	return nil
}

// RewriteOutbound runs url through the first outbound producer that accepts
// it and the providers handling outbound rewrites. Without an accepting
// producer the url is returned unchanged.
func (e *Engine) RewriteOutbound(r *http.Request, url string) (string, error) {
	for _, p := range e.reg.Outbound() {
		rw := p.Produce(r, url)
		if rw == nil {
			continue
		}
		if err := e.evaluator.Evaluate(rw.Context(), rw); err != nil {
			return url, err
		}
		return rw.URL(), nil
	}
	return url, nil
}

// EncodeURL rewrites a URL the application is about to hand to the client.
// Outside a transaction, or when rewriting fails, url is returned as is.
func EncodeURL(r *http.Request, url string) string {
	ev, ok := FromContext(r.Context())
	if !ok || ev.engine == nil {
		return url
	}

	out, err := ev.engine.RewriteOutbound(r, url)
	if err != nil {
		ev.engine.logger.Warn("outbound rewrite failed, keeping original url",
			slog.String("transaction_id", ev.ID()),
			slog.String("url", url),
			slog.String("error", err.Error()))
		return url
	}
	return out
}
