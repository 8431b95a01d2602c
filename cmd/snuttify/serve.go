package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/api"
	"github.com/snuttify/snuttify/internal/config"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/pipeline"
	"github.com/snuttify/snuttify/internal/playback"
	"github.com/snuttify/snuttify/internal/progress"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the processing workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, ctx *commandContext) error {
	startTime := time.Now()
	cfg := ctx.config
	logger := ctx.loggerValue()
	logger.Info("starting snuttify", "version", config.Version, "library", cfg.Paths.LibraryDir, "addr", cfg.Addr())

	database, history, err := ctx.openHistory()
	if err != nil {
		return err
	}
	defer database.Close()

	checkup := ctx.doctorCheck()
	if caps, err := checkup.Get(parent); err == nil && !caps.AllOK {
		logger.Warn("missing dependencies; run `snuttify doctor` for details")
	}

	store := progress.NewStore(logging.WithComponent(logger, "progress"))
	orch := ctx.newOrchestrator(store, history)

	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := pipeline.NewPool(orch, store, cfg.Server.Workers, cfg.Server.QueueSize, logging.WithComponent(logger, "pool"))
	pool.Start(context.WithoutCancel(runCtx))

	server := api.NewServer(api.ServerConfig{
		Addr:       cfg.Addr(),
		AuthToken:  cfg.Server.AuthToken,
		UploadsDir: cfg.Paths.UploadsDir,
		Pool:       pool,
		Processor:  orch,
		Progress:   store,
		Library:    ctx.libraryIndex(),
		Files:      playback.NewServer(cfg.Paths.LibraryDir, logging.WithComponent(logger, "playback")),
		History:    history,
		Doctor:     checkup,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
		Version:    config.Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-runCtx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown", "error", err)
	}
	return nil
}
