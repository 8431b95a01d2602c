// Package api exposes uploads, progress, the snippet library and media
// playback over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/snuttify/snuttify/internal/catalog"
	"github.com/snuttify/snuttify/internal/doctor"
	"github.com/snuttify/snuttify/internal/library"
	"github.com/snuttify/snuttify/internal/pipeline"
	"github.com/snuttify/snuttify/internal/playback"
	"github.com/snuttify/snuttify/internal/progress"
	"github.com/snuttify/snuttify/internal/snippets"
)

// Submitter queues full pipeline runs.
type Submitter interface {
	Submit(job pipeline.Job) (string, <-chan error, error)
	Active(videoID string) bool
}

// Processor runs partial pipelines synchronously.
type Processor interface {
	Prepare(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
	Regroup(ctx context.Context, transcriptionPath string, opts pipeline.RegroupOptions) ([]snippets.Snippet, error)
}

// RunHistory answers run history queries.
type RunHistory interface {
	History(ctx context.Context, limit int) ([]*catalog.Run, error)
	VideoHistory(ctx context.Context, videoID string, limit int) ([]*catalog.Run, error)
}

// Doctor reports tool availability.
type Doctor interface {
	Get(ctx context.Context) (*doctor.Capabilities, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr       string
	AuthToken  string
	UploadsDir string
	Pool       Submitter
	Processor  Processor
	Progress   *progress.Store
	Library    *library.Index
	Files      playback.FileServer
	History    RunHistory
	Doctor     Doctor
	Logger     *slog.Logger
	StartTime  time.Time
	Version    string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
