package declarative

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

func writeSet(name, body string) config.RuleSetConfig {
	return config.RuleSetConfig{Name: name, Rules: []config.RuleConfig{{
		Perform: []config.OperationConfig{op("write", map[string]any{"value": body}), op("handled", nil)},
	}}}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestProvider_Update(t *testing.T) {
	eng, p := newEngine(t, writeSet("v1", "one"))

	if p.Name() != "declarative" || !p.Reloads() {
		t.Errorf("provider = %q reloads=%v", p.Name(), p.Reloads())
	}
	if p.RuleSets() != 1 {
		t.Errorf("RuleSets() = %d, want 1", p.RuleSets())
	}
	wantBody(t, get(eng, echo, "/"), "one")

	if err := p.Update([]config.RuleSetConfig{writeSet("v2", "two"), writeSet("v3", "three")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if p.RuleSets() != 2 {
		t.Errorf("RuleSets() = %d, want 2", p.RuleSets())
	}
	// The engine picks up new rules without a rebuild.
	wantBody(t, get(eng, echo, "/"), "two")

	bad := config.RuleSetConfig{Name: "bad", Rules: []config.RuleConfig{{
		Perform: []config.OperationConfig{op("teleport", nil)},
	}}}
	if err := p.Update([]config.RuleSetConfig{bad}); err == nil {
		t.Fatal("Update() with an unknown operation should fail")
	}
	if p.RuleSets() != 2 {
		t.Errorf("RuleSets() after failed update = %d, want 2", p.RuleSets())
	}
	wantBody(t, get(eng, echo, "/"), "two")

	if err := p.Update(nil); err != nil {
		t.Fatalf("Update(nil) error = %v", err)
	}
	wantBody(t, get(eng, echo, "/"), "app:/")
}

func TestNewProvider_Invalid(t *testing.T) {
	_, err := NewProvider(0, []config.RuleSetConfig{{Name: "x", Rules: []config.RuleConfig{{
		When:    config.ConditionConfig{PathRegexp: "("},
		Perform: []config.OperationConfig{op("handled", nil)},
	}}}}, nil)
	if err == nil {
		t.Error("NewProvider() with an invalid pattern should fail")
	}
}

func TestProvider_Configuration(t *testing.T) {
	p, err := NewProvider(7, nil, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Priority() != 7 {
		t.Errorf("Priority() = %d, want 7", p.Priority())
	}
	if !p.Handles(nil) {
		t.Error("Handles() = false")
	}

	cfg, err := p.Configuration(context.Background(), ports.Environment{})
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if cfg == nil || len(cfg.Rules) != 0 {
		t.Errorf("Configuration() = %+v, want empty", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yaml")
		writeFile(t, path, `
rulesets:
  - name: store
    priority: 10
    path_prefix: /store
    rules:
      - name: legacy-product
        when:
          path: /store/item/{pid}
          methods: [GET]
        perform:
          - type: redirect
            args: {target: "/store/product/{pid}", code: 301}
`)

		sets, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if len(sets) != 1 || len(sets[0].Rules) != 1 {
			t.Fatalf("LoadFile() = %+v, want one set with one rule", sets)
		}
		if sets[0].Name != "store" || sets[0].Priority != 10 {
			t.Errorf("set = %q/%d, want store/10", sets[0].Name, sets[0].Priority)
		}
		r := sets[0].Rules[0]
		if !slices.Equal(r.When.Methods, []string{"GET"}) {
			t.Errorf("methods = %v, want [GET]", r.When.Methods)
		}
		if r.Perform[0].Type != "redirect" {
			t.Errorf("operation = %q, want redirect", r.Perform[0].Type)
		}

		if _, err := Compile(sets, quiet); err != nil {
			t.Errorf("Compile() error = %v", err)
		}
	})

	t.Run("duplicate names", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		writeFile(t, path, `
rulesets:
  - name: a
    rules:
      - perform: [{type: handled}]
  - name: a
    rules:
      - perform: [{type: handled}]
`)

		_, err := LoadFile(path)
		if err == nil || !strings.Contains(err.Error(), "duplicate name") {
			t.Errorf("LoadFile() error = %v, want duplicate name", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("LoadFile() of a missing file should fail")
		}
	})
}
