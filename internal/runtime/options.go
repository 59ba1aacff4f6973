package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/polyglot-rewrite/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfigFile uses file-based configuration. Rule sets in the file are
// reloaded when it changes.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithLogger sets a custom logger. Set it before WithConfigFile so the
// config watcher logs through it too.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithCatalog registers additional participant factories next to the
// built-in ones. The configuration's participants lists select them by name.
func WithCatalog(register func(*registry.Catalog) error) Option {
	return func(g *Gateway) error {
		g.catalogHooks = append(g.catalogHooks, register)
		return nil
	}
}

// WithParticipants adds participants that are always active, regardless
// of the configuration.
func WithParticipants(p registry.Participants) Option {
	return func(g *Gateway) error {
		g.extra = g.extra.Merge(p)
		return nil
	}
}

// WithApplication sets the handler requests reach when no rule handles
// them. Defaults to http.NotFoundHandler.
func WithApplication(h http.Handler) Option {
	return func(g *Gateway) error {
		if h == nil {
			return fmt.Errorf("application handler cannot be nil")
		}
		g.app = h
		return nil
	}
}

// WithProductStore sets the store of the showcase instead of the one
// described by showcase.storage.
func WithProductStore(store storage.ProductStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}
