// Package api exposes detection, grounding, repair and run history over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"warden/config"
	"warden/detect"
	"warden/repair"
	"warden/storage"
	"warden/triage"
	"warden/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RunReader reads stored triage runs
type RunReader interface {
	GetRun(ctx context.Context, id string) (*triage.Report, error)
	ListRuns(ctx context.Context, limit int) ([]storage.RunSummary, error)
}

// API holds the API server
type API struct {
	router         *mux.Router
	server         *http.Server
	config         *config.Config
	runs           RunReader
	sink           detect.FindingSink
	repair         *repair.Engine
	schemas        *schemaSet
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
	serverMu       sync.Mutex
	stopped        bool
}

// NewAPI creates a new API server. runs and sink may be nil.
func NewAPI(cfg *config.Config, runs RunReader, sink detect.FindingSink, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:       mux.NewRouter(),
		config:       cfg,
		runs:         runs,
		sink:         sink,
		repair:       repair.NewEngine(cfg.Grounding.DataFile, logger),
		schemas:      mustLoadSchemas(),
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/detect", a.detect).Methods(http.MethodPost)
	v1.HandleFunc("/ground", a.ground).Methods(http.MethodPost)
	v1.HandleFunc("/repair", a.repairCommands).Methods(http.MethodPost)
	v1.HandleFunc("/runs", a.listRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", a.getRun).Methods(http.MethodGet)

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves on addr until Stop is called.
// It returns http.ErrServerClosed once stopped, even if Stop came first.
func (a *API) Start(addr string) error {
	a.serverMu.Lock()
	if a.stopped {
		a.serverMu.Unlock()
		return http.ErrServerClosed
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           http.TimeoutHandler(a.router, a.config.API.Timeout, "request timed out"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := a.server
	a.serverMu.Unlock()

	a.logger.Infow("API listening", "addr", addr)
	return srv.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })

	a.serverMu.Lock()
	a.stopped = true
	srv := a.server
	a.serverMu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// cleanupRateLimiters drops limiters for clients idle longer than ten minutes
func (a *API) cleanupRateLimiters() {
	defer goroutine.Recover("api-ratelimit-cleanup", a.logger)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case now := <-ticker.C:
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if now.Sub(entry.lastSeen) > 10*time.Minute {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		}
	}
}
