// Package app wires all Proctora subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithService,
// WithStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/proctora/internal/config"
	"github.com/MrWong99/proctora/internal/gateway"
	"github.com/MrWong99/proctora/internal/health"
	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/outcome"
	"github.com/MrWong99/proctora/internal/resilience"
	"github.com/MrWong99/proctora/internal/session"
	"github.com/MrWong99/proctora/internal/voicecmd"
	"github.com/MrWong99/proctora/pkg/interview"
	"github.com/MrWong99/proctora/pkg/interview/httpclient"
)

const defaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes and serves the host gateway.
type App struct {
	cfg atomic.Pointer[config.Config]

	registry       *config.Registry
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logger         *slog.Logger

	// Subsystems; initialised in New, torn down in Shutdown.
	service  interview.Service
	store    outcome.Store
	commands *voicecmd.Matcher
	gateway  *gateway.Gateway
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithService injects an Interview Service instead of creating an HTTP client.
func WithService(s interview.Service) Option {
	return func(a *App) { a.service = s }
}

// WithStore injects an outcome store instead of creating one from config.
func WithStore(s outcome.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces the outcome backend registry. The built-in backends
// are registered when it is nil.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: the Interview
// Service client, the outcome store, the voice command matcher, the host
// gateway and the health endpoints.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Interview Service ─────────────────────────────────────────────
	if err := a.initService(); err != nil {
		return nil, fmt.Errorf("app: init service: %w", err)
	}

	// ── 2. Outcome store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init outcome store: %w", err)
	}

	// ── 3. Voice commands ────────────────────────────────────────────────
	var cmdOpts []voicecmd.Option
	for _, p := range cfg.Narration.RepeatPhrases {
		cmdOpts = append(cmdOpts, voicecmd.WithPhrase(voicecmd.Repeat, p))
	}
	a.commands = voicecmd.New(cmdOpts...)

	// ── 4. Gateway ───────────────────────────────────────────────────────
	a.gateway = gateway.New(gateway.Config{
		PlaybackTimeout: cfg.Narration.PlaybackTimeout,
		OriginPatterns:  cfg.Server.AllowedOrigins,
	}, gateway.Deps{
		Service:    a.service,
		Store:      a.store,
		Commands:   a.commands,
		Metrics:    a.metrics,
		Logger:     a.logger,
		ViewConfig: a.ViewConfig,
	})

	// ── 5. Health + routes ───────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initService creates the HTTP Interview Service client unless one was injected.
func (a *App) initService() error {
	if a.service != nil {
		return nil
	}
	sc := a.cfg.Load().Service
	opts := []httpclient.Option{
		httpclient.WithAPIKey(sc.APIKey),
		httpclient.WithMetrics(a.metrics),
		httpclient.WithCircuitBreaker(breakerConfig("interview-service", sc.CircuitBreaker)),
	}
	if sc.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(sc.Timeout))
	}
	for _, fb := range sc.FallbackURLs {
		opts = append(opts, httpclient.WithFallbackURL(fb))
	}
	client, err := httpclient.New(sc.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.service = client
	return nil
}

// initStore creates the outcome store through the backend registry unless
// one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinStores(a.registry)
	}
	oc := a.cfg.Load().Outcome
	store, closer, err := a.registry.CreateStore(ctx, oc)
	if err != nil {
		return err
	}
	a.store = store
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.logger.Info("outcome store ready", "backend", oc.Backend)
	return nil
}

// checkers returns the readiness probes for the service and the store.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if c, ok := a.service.(interface{ Check(context.Context) error }); ok {
		cs = append(cs, health.Checker{Name: "interview_service", Check: c.Check})
	}
	cs = append(cs, health.Checker{Name: "outcome_store", Check: a.store.Ping})
	return cs
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.gateway.Register(mux)
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Store returns the outcome store in use.
func (a *App) Store() outcome.Store { return a.store }

// Config returns the current configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ViewConfig maps the current configuration onto the settings of a new view.
func (a *App) ViewConfig() session.Config {
	return ViewConfig(a.cfg.Load())
}

// Reload applies a new configuration. Settings applied per view take effect
// for the next interview; everything in [config.ConfigDiff.RestartRequired]
// is logged and ignored until restart.
func (a *App) Reload(cfg *config.Config) {
	old := a.cfg.Load()
	d := config.Diff(old, cfg)
	if d.Empty() {
		return
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config sections changed that require a restart", "sections", d.RestartRequired)
	}
	a.cfg.Store(cfg)
	if d.ViewChanged {
		a.logger.Info("view settings reloaded",
			"proctoring", d.ProctoringChanged,
			"interview", d.InterviewChanged,
			"narration", d.NarrationChanged,
			"devices", d.DevicesChanged,
		)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns ctx.Err().
// Open host connections see ctx as their base context, so cancelling it ends
// them and persists their views.
func (a *App) Run(ctx context.Context) error {
	sc := a.cfg.Load().Server
	ln, err := net.Listen("tcp", sc.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", sc.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	sc := a.cfg.Load().Server
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if sc.TLS != nil {
			err = a.server.ServeTLS(ln, sc.TLS.CertFile, sc.TLS.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errc <- err
	}()

	a.logger.Info("app running", "addr", ln.Addr().String(), "tls", sc.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, stops the HTTP server, waits for
// host connections to finish, and then runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining(true)

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Warn("http server shutdown error", "err", err)
			}
		}
		// Host connections are hijacked and not tracked by the server; wait
		// for them so their outcomes reach the store before it closes.
		if err := a.gateway.Wait(ctx); err != nil {
			a.logger.Warn("host connections still open at shutdown", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// ShutdownTimeout returns the configured graceful shutdown bound.
func ShutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// breakerConfig converts a config.BreakerConfig. Zero fields keep the
// breaker's defaults.
func breakerConfig(name string, bc config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		HalfOpenMax:  bc.HalfOpenMax,
	}
}
