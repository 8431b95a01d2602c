package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/snuttify/snuttify/internal/errs"
)

// Service records pipeline runs and answers history queries.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// RunStarted inserts a running row and returns its id.
func (s *Service) RunStarted(ctx context.Context, videoID, videoPath string) (string, error) {
	run := &Run{
		ID:        NewID(),
		VideoID:   videoID,
		VideoPath: videoPath,
		Status:    RunStatusRunning,
		StartedAt: s.now(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// RunFinished closes the run as completed, or failed when runErr is set.
func (s *Service) RunFinished(ctx context.Context, runID string, snippetCount int, runErr error) error {
	status, msg := RunStatusCompleted, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}
	if err := s.repo.FinishRun(ctx, runID, status, snippetCount, msg, s.now()); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("run finished", "run_id", runID, "status", status, "snippets", snippetCount)
	}
	return nil
}

// History lists recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

// VideoHistory lists the runs of one video, newest first.
func (s *Service) VideoHistory(ctx context.Context, videoID string, limit int) ([]*Run, error) {
	return s.repo.ListRunsByVideo(ctx, videoID, limit)
}

// Latest returns the newest run of a video or errs.ErrNotFound.
func (s *Service) Latest(ctx context.Context, videoID string) (*Run, error) {
	run, err := s.repo.GetLatestRun(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errs.Wrap(errs.ErrNotFound, "", "history", "no runs for "+videoID, nil)
	}
	return run, nil
}
