// Package library indexes the snippets of every processed video under the
// library root.
package library

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcript"
)

// Item is a snippet annotated with the video it belongs to.
type Item struct {
	snippets.Snippet
	VideoName string `json:"video_name"`
	VideoURL  string `json:"video_url,omitempty"`
}

// Index reads manifests straight from disk on every call, so it always
// reflects the latest completed runs.
type Index struct {
	root   string
	logger *slog.Logger
}

// New creates an index over root.
func New(root string, logger *slog.Logger) *Index {
	return &Index{root: root, logger: logger}
}

// Root returns the library directory.
func (x *Index) Root() string { return x.root }

// Layout returns the artifact layout of videoID, rejecting ids that would
// escape the library root.
func (x *Index) Layout(videoID string) (artifacts.Layout, error) {
	if !validID(videoID) {
		return artifacts.Layout{}, errs.Wrap(errs.ErrNotFound, "library", "", "video "+videoID, nil)
	}
	return artifacts.NewLayout(x.root, videoID), nil
}

// Videos returns the ids of every video directory that has a manifest,
// sorted.
func (x *Index) Videos() ([]string, error) {
	entries, err := os.ReadDir(x.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if artifacts.NewLayout(x.root, e.Name()).HasManifest() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// List flattens the snippets of every video.
func (x *Index) List() ([]Item, error) {
	return x.collect(func(snippets.Snippet) bool { return true }, false)
}

// Search returns snippets whose title or any segment text contains q,
// ignoring case. Result ids are prefixed with the video id.
func (x *Index) Search(q string) ([]Item, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return x.collect(func(s snippets.Snippet) bool { return matches(s, q) }, true)
}

func matches(s snippets.Snippet, q string) bool {
	if strings.Contains(strings.ToLower(s.Title), q) {
		return true
	}
	for _, seg := range s.Segments {
		if strings.Contains(strings.ToLower(seg.Text), q) {
			return true
		}
	}
	return false
}

// Get finds one snippet. id is either "<video_id>/<snippet_id>" or a bare
// snippet id, which resolves to the first video that has it.
func (x *Index) Get(id string) (*Item, error) {
	if videoID, snippetID, ok := strings.Cut(id, "/"); ok {
		list, err := x.Manifest(videoID)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			if s.ID == snippetID {
				item := newItem(videoID, s)
				return &item, nil
			}
		}
		return nil, errs.Wrap(errs.ErrNotFound, "library", "", "snippet "+id, nil)
	}

	ids, err := x.Videos()
	if err != nil {
		return nil, err
	}
	for _, videoID := range ids {
		list, err := x.Manifest(videoID)
		if err != nil {
			x.logger.Warn("skipping unreadable manifest", "video_id", videoID, "error", err)
			continue
		}
		for _, s := range list {
			if s.ID == id {
				item := newItem(videoID, s)
				return &item, nil
			}
		}
	}
	return nil, errs.Wrap(errs.ErrNotFound, "library", "", "snippet "+id, nil)
}

// Manifest returns the snippet list of one video.
func (x *Index) Manifest(videoID string) ([]snippets.Snippet, error) {
	layout, err := x.Layout(videoID)
	if err != nil {
		return nil, err
	}
	return snippets.LoadManifest(layout.ManifestPath())
}

// Transcription returns the transcription document of one video.
func (x *Index) Transcription(videoID string) (*transcript.Document, error) {
	layout, err := x.Layout(videoID)
	if err != nil {
		return nil, err
	}
	return transcript.Load(layout.TranscriptionPath())
}

func (x *Index) collect(keep func(snippets.Snippet) bool, prefixID bool) ([]Item, error) {
	ids, err := x.Videos()
	if err != nil {
		return nil, err
	}
	items := []Item{}
	for _, videoID := range ids {
		list, err := x.Manifest(videoID)
		if err != nil {
			x.logger.Warn("skipping unreadable manifest", "video_id", videoID, "error", err)
			continue
		}
		for _, s := range list {
			if !keep(s) {
				continue
			}
			item := newItem(videoID, s)
			if prefixID {
				item.ID = videoID + "/" + s.ID
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func newItem(videoID string, s snippets.Snippet) Item {
	item := Item{Snippet: s, VideoName: videoID}
	if s.VideoPath != "" {
		item.VideoURL = VideoURL(videoID, s.VideoPath)
	}
	return item
}

// VideoURL is the playback route of a rendered clip.
func VideoURL(videoID, videoPath string) string {
	return "/api/video/" + path.Join(videoID, videoPath)
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
