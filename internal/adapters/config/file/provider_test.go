package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, "server:\n  port: 9090\n")

	p, err := NewProvider(path, quiet())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Current() != nil {
		t.Error("Current() should be nil before Load")
	}

	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
	if p.Path() != path {
		t.Errorf("Path() = %q", p.Path())
	}
}

func TestProvider_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, "rulesets:\n  - priority: 1\n")

	p, _ := NewProvider(path, quiet())
	if _, err := p.Load(context.Background()); err == nil {
		t.Error("expected validation error for unnamed rule set")
	}
}

func TestProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write(t, path, "server:\n  port: 9090\n")

	p, _ := NewProvider(path, quiet())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Unrelated files in the directory are ignored.
	write(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	// Invalid content is logged and skipped.
	write(t, path, "rulesets:\n  - priority: 1\n")
	time.Sleep(3 * debounce)
	write(t, path, "server:\n  port: 9191\n")

	select {
	case cfg := <-changes:
		if cfg.Server.Port != 9191 {
			t.Errorf("reloaded port = %d, want 9191", cfg.Server.Port)
		}
		if p.Current() != cfg {
			t.Error("Current() should return the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the config file changed")
	}
}
