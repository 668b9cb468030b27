// Package app wires together every EchoGarden subsystem — the store, the
// tool registry, the ingest and retrieval pipelines, the capture watcher,
// and the HTTP API — into a single runnable process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echogarden-io/echogarden/internal/capture"
	"github.com/echogarden-io/echogarden/internal/config"
	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/internal/health"
	"github.com/echogarden-io/echogarden/internal/httpapi"
	"github.com/echogarden-io/echogarden/internal/ingest"
	"github.com/echogarden-io/echogarden/internal/observe"
	"github.com/echogarden-io/echogarden/internal/qa"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/internal/resilience"
	"github.com/echogarden-io/echogarden/internal/retrieval"
	"github.com/echogarden-io/echogarden/internal/tools"
	asrprovider "github.com/echogarden-io/echogarden/pkg/provider/asr"
	"github.com/echogarden-io/echogarden/pkg/provider/embeddings"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	visionprovider "github.com/echogarden-io/echogarden/pkg/provider/vision"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
	"github.com/echogarden-io/echogarden/pkg/store/postgres"
)

// Providers bundles the concrete backend for every pipeline stage. A nil LLM
// leaves the summarizer, extractor, verifier and weaver tools in their stub
// modes; a nil Embeddings, ASR or Vision provider leaves the tools that need
// it unregistered.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	ASR        asrprovider.Provider
	Vision     visionprovider.Provider
}

// pinger is implemented by store.Store backends that hold a live connection
// worth probing for readiness. memstore does not implement it.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns every long-lived subsystem and the HTTP server that fronts them.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	store     store.Store
	registry  *registry.Registry
	graph     *graphsvc.Service
	retriever *retrieval.Retriever
	ingest    *ingest.Orchestrator
	qa        *qa.Orchestrator
	watcher   *capture.Watcher
	workers   *capture.WorkerPool
	browser   *capture.BrowserCapture
	health    *health.Handler
	metrics   *observe.Metrics

	httpSrv *http.Server

	mu       sync.Mutex
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option customizes App construction, primarily for tests that want to
// inject a fake store or a pre-built metrics instance instead of the
// defaults New would build from cfg.
type Option func(*buildOpts)

type buildOpts struct {
	store   store.Store
	metrics *observe.Metrics
}

// WithStore injects a store.Store, bypassing the usual Postgres-or-memstore
// construction from cfg.Storage.
func WithStore(s store.Store) Option {
	return func(o *buildOpts) { o.store = s }
}

// WithMetrics injects a pre-built Metrics instance, bypassing
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *buildOpts) { o.metrics = m }
}

// New builds every EchoGarden subsystem from cfg and providers and returns a
// ready-to-Run App. It does not start any goroutines or listeners; call Run
// for that.
func New(ctx context.Context, cfg *config.Config, providers *Providers, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if providers == nil {
		providers = &Providers{}
	}

	var o buildOpts
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, providers: providers, log: log}

	s := o.store
	if s == nil {
		built, err := buildStore(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("app: build store: %w", err)
		}
		s = built
		a.addCloser(func(context.Context) error { return s.Close() })
	}
	a.store = s

	metrics := o.metrics
	if metrics == nil {
		m, err := observe.NewMetrics(nil)
		if err != nil {
			log.Warn("failed to build OTel metrics, falling back to no-op defaults", "error", err)
			m = observe.DefaultMetrics()
		}
		metrics = m
	}
	a.metrics = metrics

	a.registry = registry.New(s.Exec(), log)
	if err := a.registerTools(ctx); err != nil {
		return nil, fmt.Errorf("app: register tools: %w", err)
	}
	if err := a.connectMCPServers(ctx); err != nil {
		return nil, fmt.Errorf("app: connect mcp servers: %w", err)
	}

	a.graph = graphsvc.New(s.Graph())
	a.registry.Register(tools.NewGraphBuilder(a.graph))

	embedder := providers.Embeddings
	if embedder != nil {
		embedder = resilience.NewEmbeddingsFallback(embedder, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "embeddings", MaxFailures: 5, ResetTimeout: 30 * time.Second},
		})
		a.registry.Register(tools.NewTextEmbed(embedder))
	}

	var retrievalOpts []retrieval.Option
	if w := cfg.Retrieval.Weights; w.Semantic != 0 || w.FTS != 0 || w.Graph != 0 || w.Recency != 0 {
		retrievalOpts = append(retrievalOpts, retrieval.WithWeights(retrieval.Weights{
			Semantic: w.Semantic,
			FTS:      w.FTS,
			Graph:    w.Graph,
			Recency:  w.Recency,
		}))
	}
	a.retriever = retrieval.New(s.Cards(), s.Graph(), embedder, retrievalOpts...)
	a.registry.Register(tools.NewRetrieval(a.retriever))

	a.ingest = ingest.New(s, a.registry, log)
	a.qa = qa.New(s, a.registry, log)

	if cfg.Capture.WatchPath != "" {
		var watcherOpts []capture.Option
		if cfg.Capture.PollIntervalS > 0 {
			watcherOpts = append(watcherOpts, capture.WithPollInterval(time.Duration(cfg.Capture.PollIntervalS)*time.Second))
		}
		if cfg.Capture.MaxFileMB > 0 {
			watcherOpts = append(watcherOpts, capture.WithMaxFileMB(int64(cfg.Capture.MaxFileMB)))
		}
		a.watcher = capture.New(cfg.Capture.WatchPath, s.Blobs(), s.Jobs(), log, watcherOpts...)

		var workerOpts []capture.WorkerOption
		if cfg.Capture.MaxJobAttempts > 0 {
			workerOpts = append(workerOpts, capture.WithMaxAttempts(cfg.Capture.MaxJobAttempts))
		}
		a.workers = capture.NewWorkerPool(s.Jobs(), a.ingest, log, workerOpts...)
	}

	a.browser = capture.NewBrowserCapture(s, a.registry, log)

	a.health = health.New(a.buildHealthCheckers()...)

	httpOpts := []httpapi.Option{httpapi.WithMetrics(a.metrics)}
	if cfg.Server.CaptureAPIKey != "" {
		httpOpts = append(httpOpts, httpapi.WithCaptureAPIKey(cfg.Server.CaptureAPIKey))
	}
	srv := httpapi.New(s, a.registry, a.ingest, a.retriever, a.qa, a.graph, a.watcher, a.browser, a.health, log, httpOpts...)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8088"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(srv.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.Storage.PostgresDSN == "" {
		log.Warn("no postgres_dsn configured, falling back to the in-memory store, which does not persist across restarts")
		return memstore.New(), nil
	}
	dims := cfg.Storage.EmbeddingDimensions
	if dims == 0 {
		dims = 1536
	}
	s, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, dims)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return s, nil
}

// registerTools registers the in-process tools. The LLM-backed tools are
// always registered and run in stub mode when no LLM provider is configured;
// the asr, ocr and vision_embed tools are registered only when their provider
// is set, and the ingest pipeline degrades accordingly (see internal/ingest).
func (a *App) registerTools(ctx context.Context) error {
	s := a.store
	r := a.registry

	r.Register(tools.NewDocParse(s.Blobs()))

	if a.providers.ASR != nil {
		r.Register(tools.NewASR(s.Blobs(), a.providers.ASR))
	}
	if a.providers.Vision != nil {
		r.Register(tools.NewOCR(s.Blobs(), a.providers.Vision))
		r.Register(tools.NewVisionEmbed(s.Blobs(), a.providers.Vision))
	}

	var llmProvider llm.Provider
	if a.providers.LLM != nil {
		llmProvider = resilience.NewLLMFallback(a.providers.LLM, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm", MaxFailures: 5, ResetTimeout: 30 * time.Second},
		})
	}
	model := a.cfg.Providers.LLM.Model
	r.Register(tools.NewSummarizer(llmProvider, model))
	r.Register(tools.NewExtractor(llmProvider))
	r.Register(tools.NewVerifier(llmProvider))
	r.Register(tools.NewWeaver(llmProvider))

	return nil
}

// connectMCPServers dials every externally-hosted MCP server named in
// cfg.MCP.Servers and registers the tools it advertises. A connection
// failure for one server does not prevent the others from being tried; it
// is logged so an optional external tool server being down does not take
// the whole process down with it.
func (a *App) connectMCPServers(ctx context.Context) error {
	for _, srv := range a.cfg.MCP.Servers {
		mcpTools, closeFn, err := registry.ConnectMCPServer(ctx, registry.MCPServerConfig{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			URL:     srv.URL,
		})
		if err != nil {
			a.log.Warn("failed to connect mcp server, its tools will be unavailable", "server", srv.Name, "error", err)
			continue
		}
		a.addCloser(func(context.Context) error { return closeFn() })
		for _, t := range mcpTools {
			a.registry.Register(t)
		}
		a.log.Info("connected mcp server", "server", srv.Name, "tools", len(mcpTools))
	}
	return nil
}

func (a *App) buildHealthCheckers() []health.Checker {
	checkers := []health.Checker{
		{Name: "store", Check: func(ctx context.Context) error {
			if p, ok := a.store.(pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		}},
	}
	if a.cfg.Providers.LLM.Name != "" && a.providers.LLM == nil {
		checkers = append(checkers, health.Checker{Name: "llm_provider", Check: func(context.Context) error {
			return fmt.Errorf("llm provider %q failed to initialize at startup", a.cfg.Providers.LLM.Name)
		}})
	}
	return checkers
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Run starts every background subsystem and blocks serving HTTP until ctx
// is cancelled or the listener fails. It always returns a non-nil error;
// http.ErrServerClosed after a clean Shutdown is not treated as a failure
// by callers that check errors.Is(err, http.ErrServerClosed).
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.watcher != nil {
		a.watcher.Start(runCtx)
		a.addCloser(func(context.Context) error { a.watcher.Stop(); return nil })
	}
	if a.workers != nil {
		a.workers.Start(runCtx)
		a.addCloser(func(context.Context) error { a.workers.Wait(); return nil })
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: http server: %w", err)
			return
		}
		errCh <- http.ErrServerClosed
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and every background subsystem in reverse
// registration order, within the deadline carried by ctx. Safe to call more
// than once; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("app: shutdown http server: %w", err)
			}
		}

		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("app: shutdown: %w", err)
			}
		}
	})
	return shutdownErr
}
