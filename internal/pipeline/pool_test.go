package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/progress"
)

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
	err     error
}

func (b *blockingRunner) Run(ctx context.Context, job Job) (*Result, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{VideoID: job.VideoID}, b.err
}

func TestPool_SubmitReturnsBeforeJobRuns(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	store := progress.NewStore(nil)
	pool := NewPool(runner, store, 1, 4, logging.NewNop())
	pool.Start(context.Background())
	defer pool.Shutdown(context.Background())

	id, done, err := pool.Submit(Job{VideoID: "demo"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id != "demo" {
		t.Errorf("id = %q", id)
	}
	st, ok := store.Get("demo")
	if !ok || st.Status != progress.StatusUploading {
		t.Errorf("state after submit = %+v", st)
	}

	close(runner.release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("job error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestPool_RejectsVideoAlreadyInFlight(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	pool := NewPool(runner, nil, 1, 4, logging.NewNop())

	if _, _, err := pool.Submit(Job{VideoID: "demo"}); err != nil {
		t.Fatal(err)
	}
	if !pool.Active("demo") || pool.Active("other") {
		t.Error("Active() does not reflect queued videos")
	}
	_, _, err := pool.Submit(Job{VideoID: "demo"})
	if !errors.Is(err, errs.ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
	if _, _, err := pool.Submit(Job{VideoID: "other"}); err != nil {
		t.Errorf("different video rejected: %v", err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	pool := NewPool(runner, nil, 1, 1, logging.NewNop())

	if _, _, err := pool.Submit(Job{VideoID: "a"}); err != nil {
		t.Fatal(err)
	}
	if got := pool.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	_, _, err := pool.Submit(Job{VideoID: "b"})
	if !errors.Is(err, errs.ErrQueueFull) {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}
}

func TestPool_ReportsJobError(t *testing.T) {
	want := errs.Wrap(errs.ErrAnalysis, "snippets", "decode", "no snippets", nil)
	runner := &blockingRunner{release: make(chan struct{}), err: want}
	close(runner.release)
	pool := NewPool(runner, nil, 2, 2, logging.NewNop())
	pool.Start(context.Background())

	_, done, err := pool.Submit(Job{VideoID: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if got := <-done; !errors.Is(got, errs.ErrAnalysis) {
		t.Errorf("job error = %v, want ErrAnalysis", got)
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, _, err := pool.Submit(Job{VideoID: "late"}); !errors.Is(err, errs.ErrQueueFull) {
		t.Errorf("submit after shutdown = %v, want ErrQueueFull", err)
	}
}

func TestPool_ShutdownCancelsOnDeadline(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	pool := NewPool(runner, nil, 1, 1, logging.NewNop())
	pool.Start(context.Background())

	_, done, err := pool.Submit(Job{VideoID: "stuck"})
	if err != nil {
		t.Fatal(err)
	}
	for runner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if got := <-done; !errors.Is(got, context.Canceled) {
		t.Errorf("job error = %v, want context.Canceled", got)
	}
}

func TestPool_SubmitRejectsLockedVideo(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	layout.EnsureDirs()
	unlock, err := lockVideo(layout)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	store := progress.NewStore(nil)
	pool := NewPool(&blockingRunner{release: make(chan struct{})}, store, 1, 2, logging.NewNop())

	_, _, err = pool.Submit(Job{VideoID: "demo", OutputDir: layout.Dir()})
	if !errors.Is(err, errs.ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
	if _, ok := store.Get("demo"); ok {
		t.Error("rejected submit touched progress")
	}
	if pool.Active("demo") {
		t.Error("rejected video counted as in flight")
	}
}

func TestPool_LockTakenWhileQueued(t *testing.T) {
	tests := []struct {
		name       string
		before     func(store *progress.Store)
		wantStatus progress.Status
		wantPct    int
	}{
		{
			name:       "fresh video ends in error",
			wantStatus: progress.StatusError,
			wantPct:    0,
		},
		{
			name: "previous run finished ends in error",
			before: func(store *progress.Store) {
				store.Tracker("demo").Complete(2)
			},
			wantStatus: progress.StatusError,
			wantPct:    0,
		},
		{
			name: "live run keeps its state",
			before: func(store *progress.Store) {
				store.Set("demo", progress.StatusFrames, "Extracting video frames...")
			},
			wantStatus: progress.StatusFrames,
			wantPct:    45,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := artifacts.NewLayout(t.TempDir(), "demo")
			store := progress.NewStore(nil)
			if tt.before != nil {
				tt.before(store)
			}
			orch := NewOrchestrator(Deps{Progress: store, Logger: logging.NewNop()})
			pool := NewPool(orch, store, 1, 2, logging.NewNop())

			_, done, err := pool.Submit(Job{VideoID: "demo", OutputDir: layout.Dir()})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if st, _ := store.Get("demo"); st.Status != progress.StatusUploading {
				t.Fatalf("state after submit = %+v", st)
			}

			// another run takes the video before a worker picks the job up
			layout.EnsureDirs()
			unlock, err := lockVideo(layout)
			if err != nil {
				t.Fatal(err)
			}
			defer unlock()

			pool.Start(context.Background())
			defer pool.Shutdown(context.Background())

			select {
			case err := <-done:
				if !errors.Is(err, errs.ErrBusy) {
					t.Fatalf("job error = %v, want ErrBusy", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("job did not finish")
			}

			st, _ := store.Get("demo")
			if st.Status != tt.wantStatus || st.Progress != tt.wantPct {
				t.Errorf("final state = %+v, want %s %d", st, tt.wantStatus, tt.wantPct)
			}
		})
	}
}

func TestLocked(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	if Locked(layout) {
		t.Error("missing video directory reported locked")
	}
	layout.EnsureDirs()
	if Locked(layout) {
		t.Error("unlocked video reported locked")
	}

	unlock, err := lockVideo(layout)
	if err != nil {
		t.Fatal(err)
	}
	if !Locked(layout) {
		t.Error("held lock not detected")
	}
	unlock()
	if Locked(layout) {
		t.Error("released lock still reported")
	}
}
