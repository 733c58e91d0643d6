package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/vidsub/internal/config"
	"github.com/MimeLyc/vidsub/internal/jobs"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/segment"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc         *pipeline.Service
	queue       *jobs.Queue
	maintenance *pipeline.Maintenance
	settings    runtimeSettingsStore
	apply       runtimeSettingsApplier
	db          pinger

	segmentDefaults segment.Config
	displayLang     string
	streamInterval  time.Duration

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

// WithDatabase attaches the store checked by /api/health.
func WithDatabase(db pinger) Option {
	return func(s *Server) {
		s.db = db
	}
}

func WithMaintenance(m *pipeline.Maintenance) Option {
	return func(s *Server) {
		s.maintenance = m
	}
}

// WithCueDefaults sets the segmentation and display language used when a
// request does not override them and no settings store is attached.
func WithCueDefaults(cfg segment.Config, displayLang string) Option {
	return func(s *Server) {
		s.segmentDefaults = cfg
		s.displayLang = displayLang
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(svc *pipeline.Service, queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		svc:             svc,
		queue:           queue,
		segmentDefaults: segment.DefaultConfig(),
		streamInterval:  time.Second,
		mux:             http.NewServeMux(),
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

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/transcripts", s.handleTranscripts)
	s.mux.HandleFunc("/api/transcripts/", s.handleTranscript)
	s.mux.HandleFunc("/api/storage/stats", s.handleStorageStats)
	s.mux.HandleFunc("/api/translate", s.handleTranslate)
	s.mux.HandleFunc("/api/translate/health", s.handleTranslateHealth)
	s.mux.HandleFunc("/api/extractions", s.handleExtractions)
	s.mux.HandleFunc("/api/extractions/stream", s.handleExtractionStream)
	s.mux.HandleFunc("/api/extractions/", s.handleExtraction)
	s.mux.HandleFunc("/api/maintenance", s.handleMaintenance)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.Handle("/metrics", promhttp.Handler())
}
