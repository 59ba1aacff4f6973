// Package config loads the rewrite gateway configuration from a YAML file
// and REWRITE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is used when no configuration path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Participants ParticipantsConfig `koanf:"participants"`
	Showcase     ShowcaseConfig     `koanf:"showcase"`
	RuleSets     []RuleSetConfig    `koanf:"rulesets"`
}

type ServerConfig struct {
	Port    int    `koanf:"port"`
	Timeout string `koanf:"timeout"` // Duration string like "30s"
}

// TimeoutDuration parses Timeout, falling back to 30s.
func (s ServerConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ParticipantsConfig lists, per participant kind, which registered
// implementations are active. Order is discovery order; the registry sorts
// by priority afterwards.
type ParticipantsConfig struct {
	Listeners      []string `koanf:"listeners"`
	Wrappers       []string `koanf:"wrappers"`
	Providers      []string `koanf:"providers"`
	ResultHandlers []string `koanf:"result_handlers"`
	Inbound        []string `koanf:"inbound"`
	Outbound       []string `koanf:"outbound"`
}

type ShowcaseConfig struct {
	Enabled bool          `koanf:"enabled"`
	Storage StorageConfig `koanf:"storage"`
}

type StorageConfig struct {
	Type string `koanf:"type"` // memory, sqlite
	Path string `koanf:"path"`
}

// RuleSetConfig is a named group of declarative rules. Sets run in priority
// order, and a set may be limited to a path prefix or to outbound rewrites.
type RuleSetConfig struct {
	Name       string       `koanf:"name"`
	Priority   int          `koanf:"priority"`
	PathPrefix string       `koanf:"path_prefix"` // Optional: set only applies under this path
	Outbound   bool         `koanf:"outbound"`    // Set applies to outbound rewrites instead of inbound
	Rules      []RuleConfig `koanf:"rules"`
}

type RuleConfig struct {
	Name     string            `koanf:"name"`
	Priority int               `koanf:"priority"`
	When     ConditionConfig   `koanf:"when"`
	Perform  []OperationConfig `koanf:"perform"`
}

// ConditionConfig combines every populated field with AND.
type ConditionConfig struct {
	Path       string            `koanf:"path"`        // chi route pattern, {name} params are bound
	PathRegexp string            `koanf:"path_regexp"` // named groups are bound
	Methods    []string          `koanf:"methods"`
	Headers    map[string]string `koanf:"headers"` // header name -> regexp
	Query      []string          `koanf:"query"`   // required query parameters
	CEL        string            `koanf:"cel"`
	Expr       string            `koanf:"expr"`
	Negate     bool              `koanf:"negate"`
}

type OperationConfig struct {
	Type string         `koanf:"type"`
	Args map[string]any `koanf:"args"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (missing file is fine) and applies REWRITE_ environment
// overrides, using "__" as the nesting separator.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("REWRITE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REWRITE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Showcase.Storage.Path = substituteEnvVars(cfg.Showcase.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":            8080,
		"server.timeout":         "30s",
		"log.level":              "info",
		"log.format":             "json",
		"telemetry.service_name": "polyglot-rewrite",
		"metrics.path":           "/metrics",
		"showcase.storage.type":  "memory",
		"participants.inbound":   []string{"http"},
		"participants.outbound":  []string{"http"},
		"participants.wrappers":  []string{"response-buffer"},
		"participants.providers": []string{"declarative"},
		"participants.listeners": []string{"access-log"},
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate checks structural problems that would only surface at request time.
func (c *Config) Validate() error {
	if err := c.ValidateRuleSets(); err != nil {
		return err
	}

	switch c.Showcase.Storage.Type {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("showcase.storage.type %q: must be memory or sqlite", c.Showcase.Storage.Type)
	}

	return nil
}

// ValidateRuleSets checks rule set names and that every rule performs
// something. Operation arguments are checked when the sets are compiled.
func (c *Config) ValidateRuleSets() error {
	seen := make(map[string]bool, len(c.RuleSets))
	for i, rs := range c.RuleSets {
		if rs.Name == "" {
			return fmt.Errorf("rulesets[%d]: name is required", i)
		}
		if seen[rs.Name] {
			return fmt.Errorf("rulesets[%d]: duplicate name %q", i, rs.Name)
		}
		seen[rs.Name] = true

		for j, rule := range rs.Rules {
			if len(rule.Perform) == 0 {
				return fmt.Errorf("ruleset %s rule[%d]: perform must list at least one operation", rs.Name, j)
			}
			for n, op := range rule.Perform {
				if op.Type == "" {
					return fmt.Errorf("ruleset %s rule[%d] perform[%d]: type is required", rs.Name, j, n)
				}
			}
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
