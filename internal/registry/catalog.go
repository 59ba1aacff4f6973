package registry

import (
	"fmt"
	"sort"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Factory creates a participant. The value must implement the interface
// matching the kind it is registered under.
type Factory func(env ports.Environment) (ports.Weighted, error)

// Catalog maps participant names to factories, per kind. It replaces
// classpath style service discovery: the process registers what it ships
// and the configuration selects what is active.
type Catalog struct {
	factories map[Kind]map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[Kind]map[string]Factory)}
}

// Register adds a factory. Registering the same kind/name twice is an error.
func (c *Catalog) Register(kind Kind, name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("participant name cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("participant %s/%s must have a factory", kind, name)
	}
	if !validKind(kind) {
		return fmt.Errorf("unknown participant kind %q", kind)
	}

	byName := c.factories[kind]
	if byName == nil {
		byName = make(map[string]Factory)
		c.factories[kind] = byName
	}
	if _, exists := byName[name]; exists {
		return fmt.Errorf("participant %s/%s already registered", kind, name)
	}
	byName[name] = f
	return nil
}

// MustRegister is Register for process setup code; it panics on error.
func (c *Catalog) MustRegister(kind Kind, name string, f Factory) {
	if err := c.Register(kind, name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered names of a kind, sorted.
func (c *Catalog) Names(kind Kind) []string {
	names := make([]string, 0, len(c.factories[kind]))
	for n := range c.factories[kind] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the activated participants in listed order.
func (c *Catalog) Build(activation map[Kind][]string, env ports.Environment) (Participants, error) {
	var p Participants

	for _, kind := range Kinds {
		for _, name := range activation[kind] {
			f, ok := c.factories[kind][name]
			if !ok {
				return Participants{}, fmt.Errorf("unknown %s participant: %s (registered: %v)", kind, name, c.Names(kind))
			}

			v, err := f(env)
			if err != nil {
				return Participants{}, fmt.Errorf("create %s participant %s: %w", kind, name, err)
			}

			if err := p.add(kind, v); err != nil {
				return Participants{}, fmt.Errorf("participant %s: %w", name, err)
			}
		}
	}

	return p, nil
}

func (p *Participants) add(kind Kind, v ports.Weighted) error {
	var ok bool
	switch kind {
	case KindListener:
		var l ports.LifecycleListener
		if l, ok = v.(ports.LifecycleListener); ok {
			p.Listeners = append(p.Listeners, l)
		}
	case KindWrapper:
		var w ports.RequestCycleWrapper
		if w, ok = v.(ports.RequestCycleWrapper); ok {
			p.Wrappers = append(p.Wrappers, w)
		}
	case KindProvider:
		var rp ports.RuleProvider
		if rp, ok = v.(ports.RuleProvider); ok {
			p.Providers = append(p.Providers, rp)
		}
	case KindResultHandler:
		var h ports.ResultHandler
		if h, ok = v.(ports.ResultHandler); ok {
			p.ResultHandlers = append(p.ResultHandlers, h)
		}
	case KindInbound:
		var ip ports.InboundProducer
		if ip, ok = v.(ports.InboundProducer); ok {
			p.Inbound = append(p.Inbound, ip)
		}
	case KindOutbound:
		var op ports.OutboundProducer
		if op, ok = v.(ports.OutboundProducer); ok {
			p.Outbound = append(p.Outbound, op)
		}
	}
	if !ok {
		return fmt.Errorf("%T cannot be used as %s", v, kind)
	}
	return nil
}

// Merge appends the participants of other after those of p.
func (p Participants) Merge(other Participants) Participants {
	p.Listeners = append(p.Listeners, other.Listeners...)
	p.Wrappers = append(p.Wrappers, other.Wrappers...)
	p.Providers = append(p.Providers, other.Providers...)
	p.ResultHandlers = append(p.ResultHandlers, other.ResultHandlers...)
	p.Inbound = append(p.Inbound, other.Inbound...)
	p.Outbound = append(p.Outbound, other.Outbound...)
	return p
}

// Activation converts the configuration's participant lists.
func Activation(cfg config.ParticipantsConfig) map[Kind][]string {
	return map[Kind][]string{
		KindListener:      cfg.Listeners,
		KindWrapper:       cfg.Wrappers,
		KindProvider:      cfg.Providers,
		KindResultHandler: cfg.ResultHandlers,
		KindInbound:       cfg.Inbound,
		KindOutbound:      cfg.Outbound,
	}
}

func validKind(kind Kind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
