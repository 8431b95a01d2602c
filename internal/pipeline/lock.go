package pipeline

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
)

// lockVideo takes the per-video run lock. A lock held elsewhere, by a server
// worker or another CLI invocation, is reported as errs.ErrBusy.
func lockVideo(layout artifacts.Layout) (func(), error) {
	lock := flock.New(layout.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errs.Wrap(errs.ErrBusy, "", "lock", layout.VideoID(), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

// Locked reports whether another run currently holds the lock of layout. A
// video directory that does not exist yet is never locked.
func Locked(layout artifacts.Layout) bool {
	if info, err := os.Stat(layout.Dir()); err != nil || !info.IsDir() {
		return false
	}
	lock := flock.New(layout.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
	}
	return !ok
}
