package rewrite

import (
	"context"
	"sort"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
)

// source is one rule provider with its cached configuration. Static
// providers are loaded once when the engine is built; reloading providers
// are asked on every pass.
type source struct {
	provider ports.RuleProvider
	name     string
	reloads  bool
	static   []ports.Rule
}

func newSources(ctx context.Context, providers []ports.RuleProvider, env ports.Environment) ([]source, error) {
	out := make([]source, 0, len(providers))
	for _, p := range providers {
		s := source{provider: p, name: registry.NameOf(p)}
		if rp, ok := p.(ports.ReloadingProvider); ok && rp.Reloads() {
			s.reloads = true
		} else {
			rules, err := loadRules(ctx, p, env)
			if err != nil {
				return nil, &domain.EvaluationError{Provider: s.name, Phase: domain.PhaseConfig, Err: err}
			}
			s.static = rules
		}
		out = append(out, s)
	}
	return out, nil
}

// rules returns the provider's rules in evaluation order.
func (s *source) rules(ctx context.Context, env ports.Environment) ([]ports.Rule, error) {
	if !s.reloads {
		return s.static, nil
	}
	rules, err := loadRules(ctx, s.provider, env)
	if err != nil {
		return nil, &domain.EvaluationError{Provider: s.name, Phase: domain.PhaseConfig, Err: err}
	}
	return rules, nil
}

// loadRules fetches a configuration and orders its rules by priority. A nil
// configuration is an empty rule set.
func loadRules(ctx context.Context, p ports.RuleProvider, env ports.Environment) ([]ports.Rule, error) {
	cfg, err := p.Configuration(ctx, env)
	if err != nil {
		return nil, err
	}
	if cfg == nil || len(cfg.Rules) == 0 {
		return nil, nil
	}

	rules := make([]ports.Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules, nil
}
