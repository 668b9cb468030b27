package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/echogarden-io/echogarden/internal/capture"
	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/internal/health"
	"github.com/echogarden-io/echogarden/internal/ingest"
	"github.com/echogarden-io/echogarden/internal/observe"
	"github.com/echogarden-io/echogarden/internal/qa"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/internal/retrieval"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// Server holds every subsystem the HTTP surface dispatches into. It owns no
// state of its own beyond what's needed to wire routes.
type Server struct {
	store     store.Store
	registry  *registry.Registry
	ingest    *ingest.Orchestrator
	retriever *retrieval.Retriever
	qa        *qa.Orchestrator
	graph     *graphsvc.Service
	watcher   *capture.Watcher
	browser   *capture.BrowserCapture
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger

	captureAPIKey string
}

// Option configures a Server.
type Option func(*Server)

// WithCaptureAPIKey sets the value required on X-EG-KEY for browser-capture
// endpoints. Empty (default) disables the check, which is only acceptable
// for local/dev configurations — app.go must set this from config in any
// deployment that exposes the HTTP surface beyond localhost.
func WithCaptureAPIKey(key string) Option {
	return func(s *Server) { s.captureAPIKey = key }
}

// WithMetrics attaches OTel HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New constructs a Server. watcher may be nil (capture/status reports a
// disabled watcher) when the process runs with watching turned off.
func New(
	s store.Store,
	reg *registry.Registry,
	ing *ingest.Orchestrator,
	retriever *retrieval.Retriever,
	qaOrch *qa.Orchestrator,
	graph *graphsvc.Service,
	watcher *capture.Watcher,
	browser *capture.BrowserCapture,
	healthHandler *health.Handler,
	log *slog.Logger,
	opts ...Option,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		store:     s,
		registry:  reg,
		ingest:    ing,
		retriever: retriever,
		qa:        qaOrch,
		graph:     graph,
		watcher:   watcher,
		browser:   browser,
		health:    healthHandler,
		log:       log,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Router builds the chi.Mux exposing every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-EG-KEY"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)

	r.Get("/tools", s.listTools)
	r.Get("/tools/{name}/schema", s.toolSchema)
	r.Post("/tools/{name}/run", s.runTool)

	r.Post("/ingest", s.ingestText)

	r.Get("/cards", s.listCards)
	r.Get("/cards/{id}", s.getCard)
	r.Get("/cards/{id}/open", s.openCard)
	r.Get("/blobs/{id}", s.streamBlob)

	r.Post("/retrieve", s.retrieve)

	r.Post("/chat", s.chat)
	r.Get("/conversations", s.listConversations)
	r.Get("/conversations/{id}", s.getConversation)
	r.Get("/search/history", s.searchHistory)

	r.Get("/digest", s.digest)
	r.Get("/feed/today", s.feedToday)

	r.Post("/graph/upsert", s.graphUpsert)
	r.Post("/graph/query", s.graphQuery)
	r.Post("/graph/expand", s.graphExpand)
	r.Get("/graph/subgraph", s.graphSubgraph)
	r.Get("/graph/search", s.graphSearch)
	r.Get("/graph/neighbors", s.graphNeighbors)

	r.Get("/exec/{trace_id}", s.execTrace)
	r.Get("/tool_calls", s.toolCalls)

	r.Get("/capture/status", s.captureStatus)
	r.Get("/capture/jobs", s.captureJobs)
	r.Route("/capture/browser", func(br chi.Router) {
		br.Use(s.requireCaptureKey)
		br.Post("/highlight", s.captureHighlight)
		br.Post("/bookmark", s.captureBookmark)
		br.Post("/research_session", s.captureResearchSession)
		br.Post("/visit", s.captureVisit)
		br.Post("/import_history", s.captureImportHistory)
	})

	return r
}
