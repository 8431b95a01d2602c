package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcript"
)

func writeManifest(t *testing.T, root, videoID string, list []snippets.Snippet) {
	t.Helper()
	layout := artifacts.NewLayout(root, videoID)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	if err := snippets.SaveManifest(layout.ManifestPath(), list); err != nil {
		t.Fatal(err)
	}
}

func seed(t *testing.T) *Index {
	t.Helper()
	root := t.TempDir()
	writeManifest(t, root, "garage", []snippets.Snippet{
		{ID: "snippet_1", Title: "Red Bike", Segments: []transcript.Segment{{Index: 0, Text: "a road bike"}}, VideoPath: "videos/red_bike.mp4"},
		{ID: "snippet_2", Title: "Pump", Segments: []transcript.Segment{{Index: 1, Text: "Floor pump with GAUGE"}}},
	})
	writeManifest(t, root, "attic", []snippets.Snippet{
		{ID: "snippet_1", Title: "Lamp", Segments: []transcript.Segment{{Index: 0, Text: "desk lamp"}}, VideoPath: "videos/lamp.mp4"},
	})
	// directories without a manifest are not part of the library
	os.MkdirAll(filepath.Join(root, "pending", "frames"), 0o755)
	os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644)
	return New(root, logging.NewNop())
}

func TestList(t *testing.T) {
	idx := seed(t)
	items, err := idx.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	first := items[0]
	if first.VideoName != "attic" || first.ID != "snippet_1" {
		t.Errorf("first = %+v", first)
	}
	if first.VideoURL != "/api/video/attic/videos/lamp.mp4" {
		t.Errorf("VideoURL = %q", first.VideoURL)
	}
	if items[2].VideoURL != "" {
		t.Errorf("unrendered snippet has url %q", items[2].VideoURL)
	}
}

func TestListEmptyLibrary(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "missing"), logging.NewNop())
	items, err := idx.List()
	if err != nil {
		t.Fatal(err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %#v, want empty slice", items)
	}
}

func TestSearch(t *testing.T) {
	idx := seed(t)
	tests := []struct {
		q    string
		want []string
	}{
		{"bike", []string{"garage/snippet_1"}},
		{"gauge", []string{"garage/snippet_2"}},
		{"LAMP", []string{"attic/snippet_1"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			items, err := idx.Search(tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != len(tt.want) {
				t.Fatalf("got %d items, want %d", len(items), len(tt.want))
			}
			for i, id := range tt.want {
				if items[i].ID != id {
					t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, id)
				}
			}
		})
	}
}

func TestGet(t *testing.T) {
	idx := seed(t)

	item, err := idx.Get("garage/snippet_2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Title != "Pump" || item.VideoName != "garage" {
		t.Errorf("item = %+v", item)
	}

	// a bare id resolves to the first video in sorted order
	item, err = idx.Get("snippet_1")
	if err != nil {
		t.Fatal(err)
	}
	if item.VideoName != "attic" {
		t.Errorf("VideoName = %q, want attic", item.VideoName)
	}

	for _, id := range []string{"snippet_9", "garage/snippet_9", "../garage/snippet_1"} {
		if _, err := idx.Get(id); !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestManifestAndTranscription(t *testing.T) {
	idx := seed(t)

	list, err := idx.Manifest("garage")
	if err != nil || len(list) != 2 {
		t.Fatalf("Manifest() = %d, %v", len(list), err)
	}
	if _, err := idx.Manifest(".."); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("escape error = %v", err)
	}
	if _, err := idx.Transcription("garage"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing transcription error = %v", err)
	}

	doc := &transcript.Document{Text: "hi", Segments: []transcript.Segment{{Text: "hi", End: 1, Duration: 1}}, Words: []transcript.Word{}}
	doc.Save(artifacts.NewLayout(idx.Root(), "garage").TranscriptionPath())
	got, err := idx.Transcription("garage")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "hi" {
		t.Errorf("Text = %q", got.Text)
	}
}
