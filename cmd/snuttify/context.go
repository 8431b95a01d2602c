package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/snuttify/snuttify/internal/analysis"
	"github.com/snuttify/snuttify/internal/catalog"
	"github.com/snuttify/snuttify/internal/config"
	"github.com/snuttify/snuttify/internal/cutter"
	"github.com/snuttify/snuttify/internal/db"
	"github.com/snuttify/snuttify/internal/doctor"
	"github.com/snuttify/snuttify/internal/frames"
	"github.com/snuttify/snuttify/internal/library"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/media"
	"github.com/snuttify/snuttify/internal/pipeline"
	"github.com/snuttify/snuttify/internal/progress"
	"github.com/snuttify/snuttify/internal/transcribe"
)

var _ pipeline.Recorder = (*catalog.Service)(nil)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevelFlag: logLevelFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := config.DefaultLogLevel
		if c.config != nil {
			level = c.config.Logging.Level
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			level = *c.logLevelFlag
		}
		c.logger = logging.NewLogger(level)
	})
	return c.logger
}

// openHistory opens the run history database.
func (c *commandContext) openHistory() (*db.DB, *catalog.Service, error) {
	database, err := db.New(c.config.DBPath(), c.loggerValue())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return database, catalog.NewService(catalog.NewRepository(database.Conn()), c.loggerValue()), nil
}

// newOrchestrator wires the media tools and OpenAI clients. recorder may be nil.
func (c *commandContext) newOrchestrator(store *progress.Store, recorder pipeline.Recorder) *pipeline.Orchestrator {
	cfg := c.config
	logger := c.loggerValue()
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("no OpenAI API key configured; transcription and analysis will fail")
	}

	ff := media.NewFFmpeg(media.NewRunner(logger), cfg.Media.FFmpeg, cfg.Media.FFprobe, logging.WithComponent(logger, "media"))
	deps := pipeline.Deps{
		Audio: ff,
		Transcriber: transcribe.NewOpenAI(transcribe.Options{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.TranscriptionModel,
			Language: cfg.OpenAI.Language,
		}, logging.WithComponent(logger, "transcribe")),
		Frames: frames.NewExtractor(ff, logging.WithComponent(logger, "frames")),
		Analyzer: analysis.NewOpenAI(analysis.Options{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.AnalysisModel,
			SystemPrompt:   cfg.OpenAI.SystemPrompt,
			JSONObjectMode: cfg.OpenAI.JSONObjectMode,
		}, logging.WithComponent(logger, "analysis")),
		Clipper:      ff,
		CutSettings:  cutSettings(cfg.Cut),
		Progress:     store,
		StageTimeout: cfg.StageTimeout(),
		Logger:       logger,
	}
	if recorder != nil {
		deps.Recorder = recorder
	}
	return pipeline.NewOrchestrator(deps)
}

func (c *commandContext) doctorCheck() *doctor.CachedDoctor {
	cfg := c.config
	logger := logging.WithComponent(c.loggerValue(), "doctor")
	prober := doctor.NewToolProber(media.NewRunner(logger), cfg.Media.FFmpeg, cfg.Media.FFprobe, cfg.OpenAI.APIKey)
	return doctor.NewCachedDoctor(prober, logger)
}

func (c *commandContext) libraryIndex() *library.Index {
	return library.New(c.config.Paths.LibraryDir, logging.WithComponent(c.loggerValue(), "library"))
}

func cutSettings(c config.Cut) cutter.Settings {
	return cutter.Settings{
		Width:            c.Width,
		Height:           c.Height,
		ForceAspectRatio: c.ForceAspectRatio,
		VideoCodec:       c.VideoCodec,
		Preset:           c.Preset,
		CRF:              c.CRF,
		AudioCodec:       c.AudioCodec,
		AudioBitrate:     c.AudioBitrate,
	}
}
