// Package progress tracks the latest processing state of every video.
package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is a pipeline milestone.
type Status string

const (
	StatusUploading     Status = "uploading"
	StatusAudio         Status = "audio"
	StatusTranscription Status = "transcription"
	StatusFrames        Status = "frames"
	StatusSnippets      Status = "snippets"
	StatusVideos        Status = "videos"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

var percents = map[Status]int{
	StatusUploading:     0,
	StatusAudio:         15,
	StatusTranscription: 30,
	StatusFrames:        45,
	StatusSnippets:      60,
	StatusVideos:        75,
	StatusComplete:      100,
}

// Percent returns the milestone percentage. Error has none of its own.
func (s Status) Percent() (int, bool) {
	p, ok := percents[s]
	return p, ok
}

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := percents[s]
	return ok || s == StatusError
}

// State is the latest known state of one video.
type State struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink receives stage transitions for one video.
type Sink interface {
	Update(status Status, message string)
}

// Store maps video ids to their latest State. It is safe for concurrent use:
// one writer per key, any number of readers.
type Store struct {
	mu     sync.RWMutex
	states map[string]State
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		states: make(map[string]State),
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the current state of videoID.
func (s *Store) Get(videoID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[videoID]
	return st, ok
}

// Set overwrites the state of videoID. Error is absorbing: once a video is in
// the error state only a new upload may move it again. It reports whether the
// transition was applied.
func (s *Store) Set(videoID string, status Status, message string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.states[videoID]
	if exists && current.Status == StatusError && status != StatusUploading {
		return current, false
	}

	next := State{Status: status, Message: message, UpdatedAt: s.now()}
	if p, ok := status.Percent(); ok {
		next.Progress = p
	} else {
		next.Progress = current.Progress
	}
	s.states[videoID] = next

	if s.logger != nil {
		s.logger.Info(message, "video_id", videoID, "status", string(status), "progress", next.Progress)
	}
	return next, true
}

// Revert replaces the state of videoID with next, but only while the current
// state is still expect. It reports whether the replacement happened.
func (s *Store) Revert(videoID string, expect, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[videoID]
	if !ok || current.Status != expect.Status || current.Message != expect.Message || !current.UpdatedAt.Equal(expect.UpdatedAt) {
		return false
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now()
	}
	s.states[videoID] = next
	if s.logger != nil {
		s.logger.Info(next.Message, "video_id", videoID, "status", string(next.Status), "progress", next.Progress)
	}
	return true
}

// IDs returns every tracked video id, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tracker returns a Sink bound to videoID.
func (s *Store) Tracker(videoID string) *Tracker {
	return &Tracker{store: s, videoID: videoID}
}

// Tracker reports transitions of one video to a Store. A nil Tracker discards
// every update.
type Tracker struct {
	store   *Store
	videoID string
}

func (t *Tracker) Update(status Status, message string) {
	if t == nil {
		return
	}
	t.store.Set(t.videoID, status, message)
}

// Uploading resets the video to the first milestone.
func (t *Tracker) Uploading() {
	t.Update(StatusUploading, "Video uploaded, starting processing...")
}

// UsingExisting reports a reused artifact at the same milestone as real work.
func (t *Tracker) UsingExisting(status Status, item string) {
	t.Update(status, fmt.Sprintf("Using existing %s...", item))
}

// Skipping reports an operator-forced skip.
func (t *Tracker) Skipping(status Status, item string) {
	t.Update(status, fmt.Sprintf("Skipping %s...", item))
}

// Complete moves the video to 100%.
func (t *Tracker) Complete(snippets int) {
	if snippets > 0 {
		t.Update(StatusComplete, fmt.Sprintf("Processing complete. Created %d snippets!", snippets))
		return
	}
	t.Update(StatusComplete, "Processing complete")
}

// Error records a terminal failure.
func (t *Tracker) Error(err error) {
	t.Update(StatusError, err.Error())
}
