// Package registry holds the ordered participant lists of the rewrite engine.
//
// A Registry is built once at process start from an explicit Participants
// value. Every list is stably sorted by priority (lower first, ties keep
// discovery order) and never changes afterwards, so a Registry may be read
// from any number of goroutines without locking.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Kind identifies a participant list.
type Kind string

const (
	KindListener      Kind = "listeners"
	KindWrapper       Kind = "wrappers"
	KindProvider      Kind = "providers"
	KindResultHandler Kind = "result_handlers"
	KindInbound       Kind = "inbound"
	KindOutbound      Kind = "outbound"
)

// Kinds lists every participant kind in boot order.
var Kinds = []Kind{KindListener, KindWrapper, KindProvider, KindResultHandler, KindInbound, KindOutbound}

// Participants is the discovered, unsorted set of participants.
type Participants struct {
	Listeners      []ports.LifecycleListener
	Wrappers       []ports.RequestCycleWrapper
	Providers      []ports.RuleProvider
	ResultHandlers []ports.ResultHandler
	Inbound        []ports.InboundProducer
	Outbound       []ports.OutboundProducer
}

// Registry is the read-only, priority ordered view of Participants.
type Registry struct {
	listeners      []ports.LifecycleListener
	wrappers       []ports.RequestCycleWrapper
	providers      []ports.RuleProvider
	resultHandlers []ports.ResultHandler
	inbound        []ports.InboundProducer
	outbound       []ports.OutboundProducer
}

// New sorts p and logs the loaded services. It warns, but does not fail,
// when no rule providers were registered.
func New(p Participants, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		listeners:      sorted(p.Listeners),
		wrappers:       sorted(p.Wrappers),
		providers:      sorted(p.Providers),
		resultHandlers: sorted(p.ResultHandlers),
		inbound:        sorted(p.Inbound),
		outbound:       sorted(p.Outbound),
	}

	logLoaded(logger, KindListener, r.listeners)
	logLoaded(logger, KindWrapper, r.wrappers)
	logLoaded(logger, KindProvider, r.providers)
	logLoaded(logger, KindResultHandler, r.resultHandlers)
	logLoaded(logger, KindInbound, r.inbound)
	logLoaded(logger, KindOutbound, r.outbound)

	if !r.Active() {
		logger.Warn("no rule providers were registered: rewriting will not be enabled; " +
			"check the participants.providers list in the configuration")
	}

	return r
}

// sorted returns a stably sorted copy of in.
func sorted[T ports.Weighted](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// Active reports whether at least one rule provider is registered.
func (r *Registry) Active() bool {
	return len(r.providers) > 0
}

// Listeners returns the lifecycle listeners in priority order.
// The returned slice must not be modified.
func (r *Registry) Listeners() []ports.LifecycleListener { return r.listeners }

// Wrappers returns the request cycle wrappers in priority order.
func (r *Registry) Wrappers() []ports.RequestCycleWrapper { return r.wrappers }

// Providers returns the rule providers in priority order.
func (r *Registry) Providers() []ports.RuleProvider { return r.providers }

// ResultHandlers returns the result handlers in priority order.
func (r *Registry) ResultHandlers() []ports.ResultHandler { return r.resultHandlers }

// Inbound returns the inbound producers in priority order.
func (r *Registry) Inbound() []ports.InboundProducer { return r.inbound }

// Outbound returns the outbound producers in priority order.
func (r *Registry) Outbound() []ports.OutboundProducer { return r.outbound }

// Entry describes one loaded participant.
type Entry struct {
	Kind     Kind
	Name     string
	Priority int
}

// Inventory lists every participant in kind and priority order.
func (r *Registry) Inventory() []Entry {
	var out []Entry
	add := func(kind Kind, items []ports.Weighted) {
		for _, it := range items {
			out = append(out, Entry{Kind: kind, Name: NameOf(it), Priority: it.Priority()})
		}
	}
	add(KindListener, weighted(r.listeners))
	add(KindWrapper, weighted(r.wrappers))
	add(KindProvider, weighted(r.providers))
	add(KindResultHandler, weighted(r.resultHandlers))
	add(KindInbound, weighted(r.inbound))
	add(KindOutbound, weighted(r.outbound))
	return out
}

func weighted[T ports.Weighted](in []T) []ports.Weighted {
	out := make([]ports.Weighted, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// NameOf returns the participant's Name when it implements ports.Named, or
// its Go type otherwise.
func NameOf(v any) string {
	if n, ok := v.(ports.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", v)
}

func logLoaded[T ports.Weighted](logger *slog.Logger, kind Kind, items []T) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = fmt.Sprintf("%s(%d)", NameOf(it), it.Priority())
	}
	logger.Info("loaded participants",
		slog.String("kind", string(kind)),
		slog.Int("count", len(items)),
		slog.Any("participants", names))
}
