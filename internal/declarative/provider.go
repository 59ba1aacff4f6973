package declarative

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Provider serves the compiled rule sets of the configuration file. The
// engine asks for its configuration on every pass, so Update takes effect
// for the next transaction without a restart.
type Provider struct {
	priority int
	logger   *slog.Logger
	current  atomic.Pointer[ports.Configuration]
	sets     atomic.Int64
}

var (
	_ ports.RuleProvider      = (*Provider)(nil)
	_ ports.ReloadingProvider = (*Provider)(nil)
)

// NewProvider compiles sets. An invalid set fails the whole provider.
func NewProvider(priority int, sets []config.RuleSetConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{priority: priority, logger: logger}
	if err := p.Update(sets); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() string { return "declarative" }
func (p *Provider) Priority() int { return p.priority }
func (p *Provider) Reloads() bool { return true }

// Handles accepts every rewrite; rule sets scope themselves.
func (p *Provider) Handles(ports.Rewrite) bool { return true }

func (p *Provider) Configuration(context.Context, ports.Environment) (*ports.Configuration, error) {
	return p.current.Load(), nil
}

// Update recompiles the rule sets and swaps them in. On error the previous
// rules stay active.
func (p *Provider) Update(sets []config.RuleSetConfig) error {
	cfg, err := Compile(sets, p.logger)
	if err != nil {
		return err
	}
	p.current.Store(cfg)
	p.sets.Store(int64(len(sets)))

	p.logger.Info("declarative rules loaded",
		slog.Int("rulesets", len(sets)),
		slog.Int("rules", len(cfg.Rules)))
	return nil
}

// RuleSets returns how many rule sets are active.
func (p *Provider) RuleSets() int {
	return int(p.sets.Load())
}

// rulesFile is the shape of a standalone rules file.
type rulesFile struct {
	RuleSets []config.RuleSetConfig `koanf:"rulesets"`
}

// LoadFile reads the rulesets section of a YAML file, as used by the
// validate command.
func LoadFile(path string) ([]config.RuleSetConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var out rulesFile
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := config.Config{RuleSets: out.RuleSets}
	if err := cfg.ValidateRuleSets(); err != nil {
		return nil, err
	}
	return out.RuleSets, nil
}
