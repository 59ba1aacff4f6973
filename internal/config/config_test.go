package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Server.TimeoutDuration() != 30*time.Second {
			t.Errorf("Load() timeout = %v, want 30s", cfg.Server.TimeoutDuration())
		}
		if len(cfg.Participants.Providers) != 1 || cfg.Participants.Providers[0] != "declarative" {
			t.Errorf("Load() providers = %v, want [declarative]", cfg.Participants.Providers)
		}
		if cfg.Showcase.Storage.Type != "memory" {
			t.Errorf("Load() storage type = %q, want memory", cfg.Showcase.Storage.Type)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("REWRITE_SERVER__PORT", "9000")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
	})

	t.Run("rulesets from file", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
participants:
  providers: [declarative, showcase]
rulesets:
  - name: legacy
    priority: 5
    rules:
      - name: old-home
        when:
          path: /old/{page}
          methods: [GET]
        perform:
          - type: redirect
            args:
              target: /new/{page}
              permanent: true
`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.Server.Port)
		}
		if len(cfg.Participants.Providers) != 2 {
			t.Fatalf("providers = %v, want 2 entries", cfg.Participants.Providers)
		}
		if len(cfg.RuleSets) != 1 {
			t.Fatalf("rulesets = %d, want 1", len(cfg.RuleSets))
		}
		rs := cfg.RuleSets[0]
		if rs.Name != "legacy" || rs.Priority != 5 {
			t.Errorf("ruleset = %+v", rs)
		}
		rule := rs.Rules[0]
		if rule.When.Path != "/old/{page}" {
			t.Errorf("when.path = %q", rule.When.Path)
		}
		if rule.Perform[0].Type != "redirect" {
			t.Errorf("perform[0].type = %q", rule.Perform[0].Type)
		}
		if rule.Perform[0].Args["target"] != "/new/{page}" {
			t.Errorf("perform[0].args = %v", rule.Perform[0].Args)
		}
	})

	t.Run("invalid ruleset", func(t *testing.T) {
		path := writeConfig(t, `
rulesets:
  - name: broken
    rules:
      - name: no-ops
        when:
          path: /x
`)
		if _, err := Load(path); err == nil {
			t.Fatal("Load() expected error for rule without operations")
		}
	})
}

func TestValidate_DuplicateRuleSet(t *testing.T) {
	cfg := &Config{RuleSets: []RuleSetConfig{{Name: "a"}, {Name: "a"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected duplicate name error")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
