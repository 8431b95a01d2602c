package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/progress"
)

// JobRunner executes one job to completion.
type JobRunner interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

type task struct {
	job  Job
	done chan error
	// state written at submit time and the one it replaced, if any
	written  progress.State
	previous *progress.State
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	runner   JobRunner
	progress *progress.Store
	logger   *slog.Logger
	workers  int
	queue    chan task

	mu       sync.Mutex
	inflight map[string]bool
	closed   bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a pool; call Start before submitting.
func NewPool(runner JobRunner, store *progress.Store, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		runner:   runner,
		progress: store,
		logger:   logger,
		workers:  workers,
		queue:    make(chan task, queueSize),
		inflight: make(map[string]bool),
	}
}

// Start launches the workers. Jobs run under a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.logger.Info("job started", "worker", id, "video_id", t.job.VideoID)
		_, err := p.runner.Run(ctx, t.job)
		if err != nil {
			p.logger.Error("job failed", "worker", id, "video_id", t.job.VideoID, "error", err)
		}
		if errors.Is(err, errs.ErrBusy) {
			p.settleBusy(t, err)
		}

		p.mu.Lock()
		delete(p.inflight, t.job.VideoID)
		p.mu.Unlock()

		t.done <- err
		close(t.done)
	}
}

// settleBusy undoes the uploading state of a job that found its video locked.
// A live run that owned the previous state gets it back; otherwise the job
// ends in the error state. Nothing changes once another run has reported.
func (p *Pool) settleBusy(t task, err error) {
	if p.progress == nil {
		return
	}
	next := progress.State{Status: progress.StatusError, Message: err.Error(), Progress: t.written.Progress}
	if t.previous != nil && !t.previous.Status.Terminal() {
		next = *t.previous
	}
	p.progress.Revert(t.job.VideoID, t.written, next)
}

// Submit enqueues job and returns at once with the video id and a channel that
// receives the job's outcome. A video that is already queued or running, here
// or in another process holding its lock, is rejected with errs.ErrBusy and a
// full queue with errs.ErrQueueFull.
func (p *Pool) Submit(job Job) (string, <-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", nil, errs.Wrap(errs.ErrQueueFull, "", "submit", "pool is shutting down", nil)
	}
	if p.inflight[job.VideoID] || (job.OutputDir != "" && Locked(artifacts.LayoutAt(job.OutputDir))) {
		return "", nil, errs.Wrap(errs.ErrBusy, "", "submit", job.VideoID, nil)
	}
	if len(p.queue) == cap(p.queue) {
		return "", nil, errs.Wrap(errs.ErrQueueFull, "", "submit", job.VideoID, nil)
	}

	t := task{job: job, done: make(chan error, 1)}
	if p.progress != nil {
		if prev, ok := p.progress.Get(job.VideoID); ok {
			t.previous = &prev
		}
		p.progress.Tracker(job.VideoID).Uploading()
		t.written, _ = p.progress.Get(job.VideoID)
	}
	// only Submit sends, under p.mu, so the capacity check above holds
	p.queue <- t
	p.inflight[job.VideoID] = true
	return job.VideoID, t.done, nil
}

// Active reports whether videoID is queued or running.
func (p *Pool) Active(videoID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[videoID]
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx expires first, running jobs are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return ctx.Err()
	}
}
