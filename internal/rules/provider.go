package rules

import (
	"context"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Provider is a RuleProvider for configurations written in code.
type Provider struct {
	name     string
	priority int
	handles  func(ports.Rewrite) bool
	build    func(env ports.Environment) (*ports.Configuration, error)
}

var _ ports.RuleProvider = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// HandlesOnly restricts the provider to the rewrites accepted by f.
func HandlesOnly(f func(ports.Rewrite) bool) ProviderOption {
	return func(p *Provider) {
		p.handles = f
	}
}

// NewProvider returns a provider serving cfg.
func NewProvider(name string, priority int, cfg *ports.Configuration, opts ...ProviderOption) *Provider {
	return NewProviderFunc(name, priority, func(ports.Environment) (*ports.Configuration, error) {
		return cfg, nil
	}, opts...)
}

// NewProviderFunc returns a provider whose configuration is built when the
// engine loads it, with access to the environment.
func NewProviderFunc(name string, priority int, build func(ports.Environment) (*ports.Configuration, error), opts ...ProviderOption) *Provider {
	p := &Provider{name: name, priority: priority, build: build}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }
func (p *Provider) Priority() int { return p.priority }

func (p *Provider) Handles(rw ports.Rewrite) bool {
	return p.handles == nil || p.handles(rw)
}

func (p *Provider) Configuration(_ context.Context, env ports.Environment) (*ports.Configuration, error) {
	return p.build(env)
}
