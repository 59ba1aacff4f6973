// Package runtime assembles the rewrite gateway: configuration, participant
// catalog, registry, engine and HTTP server, and manages their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/declarative"
	"github.com/tjfontaine/polyglot-rewrite/internal/metrics"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
	"github.com/tjfontaine/polyglot-rewrite/internal/response"
	"github.com/tjfontaine/polyglot-rewrite/internal/rewrite"
	"github.com/tjfontaine/polyglot-rewrite/internal/server"
	"github.com/tjfontaine/polyglot-rewrite/internal/showcase"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage/memory"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage/sqlite"
	"github.com/tjfontaine/polyglot-rewrite/internal/telemetry"
)

// Gateway runs the rewrite engine in front of an application handler.
// It can be embedded in a larger program or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config       ports.ConfigProvider
	catalogHooks []func(*registry.Catalog) error
	extra        registry.Participants
	app          http.Handler
	store        storage.ProductStore
	logger       *slog.Logger

	// Built by Build
	cfg            *config.Config
	rules          *declarative.Provider
	metrics        *metrics.Collector
	registry       *registry.Registry
	engine         *rewrite.Engine
	server         *server.Server
	tracerShutdown func(context.Context) error
	ownsStore      bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Gateway with the given options. A config provider is
// required.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		app:    http.NotFoundHandler(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithConfigFile or WithConfigProvider)")
	}

	return gw, nil
}

// Build loads the configuration and wires the participants, the engine and
// the router without listening. Start calls it when needed.
func (g *Gateway) Build(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(ctx)
}

func (g *Gateway) build(ctx context.Context) error {
	if g.engine != nil {
		return nil
	}

	cfg, err := g.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, nil, g.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		g.tracerShutdown = shutdown
	}

	g.rules, err = declarative.NewProvider(0, cfg.RuleSets, g.logger)
	if err != nil {
		return fmt.Errorf("compile rulesets: %w", err)
	}
	g.metrics = metrics.New()

	activation := registry.Activation(cfg.Participants)
	if cfg.Showcase.Enabled {
		if err := g.openStore(cfg.Showcase.Storage); err != nil {
			return err
		}
		activate(activation, registry.KindProvider, "showcase")
	}
	if cfg.Metrics.Enabled {
		activate(activation, registry.KindListener, "metrics")
		activate(activation, registry.KindResultHandler, "metrics")
	}

	catalog, err := g.catalog()
	if err != nil {
		return err
	}

	env := ports.Environment{Logger: g.logger}
	participants, err := catalog.Build(activation, env)
	if err != nil {
		return fmt.Errorf("build participants: %w", err)
	}
	g.registry = registry.New(participants.Merge(g.extra), g.logger)

	g.engine, err = rewrite.New(ctx, g.registry,
		rewrite.WithLogger(g.logger),
		rewrite.WithEnvironment(env),
		rewrite.WithErrorHandler(g.handleError))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	g.server = server.New(cfg.Server, cfg.Telemetry.ServiceName, g.logger)
	if cfg.Metrics.Enabled {
		g.server.Router.Handle(cfg.Metrics.Path, g.metrics.Handler())
		g.logger.Info("registered metrics handler", slog.String("path", cfg.Metrics.Path))
	}
	g.server.Router.With(server.RewriteMiddleware(g.engine)).Handle("/*", g.app)

	return nil
}

// activate appends name to the kind's list unless it is already there.
func activate(activation map[registry.Kind][]string, kind registry.Kind, name string) {
	if !slices.Contains(activation[kind], name) {
		activation[kind] = append(slices.Clip(activation[kind]), name)
	}
}

// catalog registers the built-in participants, then the WithCatalog hooks.
func (g *Gateway) catalog() (*registry.Catalog, error) {
	c := registry.NewCatalog()

	builtin := func(v ports.Weighted) registry.Factory {
		return func(ports.Environment) (ports.Weighted, error) { return v, nil }
	}

	c.MustRegister(registry.KindInbound, "http", builtin(rewrite.NewHTTPInboundProducer()))
	c.MustRegister(registry.KindOutbound, "http", builtin(rewrite.HTTPOutboundProducer{}))
	c.MustRegister(registry.KindWrapper, "response-buffer", builtin(response.NewWrapper(0)))
	c.MustRegister(registry.KindProvider, "declarative", builtin(g.rules))
	c.MustRegister(registry.KindProvider, "showcase", func(env ports.Environment) (ports.Weighted, error) {
		if g.store == nil {
			return nil, fmt.Errorf("showcase.enabled is false and no product store was given")
		}
		return showcase.NewProvider(g.store, env.Logger), nil
	})
	c.MustRegister(registry.KindListener, "tracing", func(ports.Environment) (ports.Weighted, error) {
		return telemetry.NewListener(), nil
	})
	c.MustRegister(registry.KindListener, "metrics", builtin(g.metrics))
	c.MustRegister(registry.KindListener, "access-log", builtin(server.AccessLogListener{}))
	c.MustRegister(registry.KindResultHandler, "metrics", builtin(g.metrics))

	for _, hook := range g.catalogHooks {
		if err := hook(c); err != nil {
			return nil, fmt.Errorf("register participants: %w", err)
		}
	}
	return c, nil
}

func (g *Gateway) openStore(cfg config.StorageConfig) error {
	if g.store != nil {
		return nil
	}
	switch cfg.Type {
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "products.db"
		}
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("open product store: %w", err)
		}
		g.store = store
	default:
		g.store = memory.New()
	}
	g.ownsStore = true
	g.logger.Info("product store opened", slog.String("type", cfg.Type))
	return nil
}

func (g *Gateway) handleError(w http.ResponseWriter, r *http.Request, err error) {
	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("path", r.URL.Path),
	}
	var ee *domain.EvaluationError
	if errors.As(err, &ee) {
		attrs = append(attrs, slog.String("rule", ee.Rule), slog.String("phase", ee.Phase))
	}
	g.logger.Error("rewrite failed", attrs...)

	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Start builds the gateway if needed, starts the HTTP server and watches
// the configuration for rule set changes.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.build(ctx); err != nil {
		return err
	}

	g.ctx, g.cancel = context.WithCancel(ctx)

	if err := g.server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go g.watchConfig()

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Int("rulesets", g.rules.RuleSets()),
		slog.Bool("showcase", g.cfg.Showcase.Enabled))

	return nil
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.tracerShutdown != nil {
		if err := g.tracerShutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	if g.store != nil && g.ownsStore {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close product store", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Close(); err != nil {
		g.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// Handler returns the root HTTP handler. Build must have succeeded.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Engine returns the rewrite engine. Build must have succeeded.
func (g *Gateway) Engine() *rewrite.Engine {
	return g.engine
}

// Registry returns the ordered participants. Build must have succeeded.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// watchConfig reloads rule sets when the configuration changes. Other
// sections need a restart.
func (g *Gateway) watchConfig() {
	if err := g.config.Watch(g.ctx, g.reload); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

func (g *Gateway) reload(cfg *config.Config) {
	if err := g.rules.Update(cfg.RuleSets); err != nil {
		g.logger.Error("failed to reload rulesets, keeping previous rules",
			slog.String("error", err.Error()))
		return
	}
	g.logger.Info("reload complete", slog.Int("rulesets", len(cfg.RuleSets)))
}
