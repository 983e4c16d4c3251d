package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/internal/config"
	"github.com/chenapple/thesaurus-management/internal/persistence"
	"github.com/chenapple/thesaurus-management/internal/service"
)

type analysisRunner interface {
	Analyze(ctx context.Context, req service.AnalyzeRequest) (service.Outcome, error)
	Retry(ctx context.Context, sessionID string, onUpdate func(analysis.Snapshot)) (service.Outcome, error)
	RunAgent(ctx context.Context, role analysis.Role, terms []analysis.SearchTerm, targetACOS float64) (json.RawMessage, error)
	Stop() bool
	IsRunning() bool
	Current() (analysis.Snapshot, bool)
	Sessions(ctx context.Context, limit int) ([]persistence.SessionRecord, error)
	Session(ctx context.Context, id string) (service.SessionDetail, error)
	DeleteSession(ctx context.Context, id string) error
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	runner   analysisRunner
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	metrics  http.Handler
	errors   service.ErrorHandler
	termsDir string

	// background runs outlive the request that started them
	baseCtx        context.Context
	streamInterval time.Duration
	wg             sync.WaitGroup

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithMetricsHandler serves handler at /metrics
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithTermsDir allows terms_file requests to read report files inside dir
func WithTermsDir(dir string) Option {
	return func(s *Server) {
		s.termsDir = dir
	}
}

// WithBaseContext sets the context of analyses started through the API
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithStreamInterval sets how often the stream endpoint polls for a new snapshot
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

func NewServer(runner analysisRunner, opts ...Option) *Server {
	s := &Server{
		runner:         runner,
		errors:         service.NewDefaultErrorHandler(),
		baseCtx:        context.Background(),
		streamInterval: 1 * time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for background analyses to return
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/analyses", s.handleAnalyses)
	s.mux.HandleFunc("/api/analyses/current", s.handleCurrent)
	s.mux.HandleFunc("/api/analyses/stream", s.handleStream)
	s.mux.HandleFunc("/api/analyses/stop", s.handleStop)
	s.mux.HandleFunc("/api/analyses/", s.handleSession)
	s.mux.HandleFunc("/api/agents/", s.handleAgent)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// background runs fn outside the request and reports its error through the error handler
func (s *Server) background(fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.baseCtx); err != nil {
			s.errors.Handle(err)
		}
	}()
}
