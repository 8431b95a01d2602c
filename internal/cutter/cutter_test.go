package cutter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/media"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcript"
)

type fakeClipper struct {
	mu    sync.Mutex
	calls atomic.Int32
	specs []media.CutSpec
	fail  map[int]bool
}

func (f *fakeClipper) Cut(ctx context.Context, spec media.CutSpec) error {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if f.fail[n] {
		return &media.ToolError{Tool: "ffmpeg", Op: "cut", ExitCode: 1, Stderr: "Conversion failed!"}
	}
	os.MkdirAll(filepath.Dir(spec.Output), 0o755)
	return os.WriteFile(spec.Output, []byte("mp4"), 0o644)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snippet(id, title string, spans ...[2]float64) snippets.Snippet {
	s := snippets.Snippet{ID: id, Title: title}
	for i, sp := range spans {
		s.Segments = append(s.Segments, transcript.Segment{Index: i, Start: sp[0], End: sp[1], Duration: sp[1] - sp[0]})
	}
	return s
}

func settings() Settings {
	return Settings{
		Width: 1080, Height: 1920, ForceAspectRatio: true,
		VideoCodec: "libx264", Preset: "medium", CRF: 23,
		AudioCodec: "aac", AudioBitrate: "128k",
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Racing Bike (Red)", "racing_bike__red_"},
		{"Däck & Fälgar", "däck___fälgar"},
		{"  Drill\n", "drill"},
		{"ÉCOLE 42", "école_42"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := SafeName(strings.Repeat("b", 200))
	if n := len([]rune(long)); n != maxNameLen {
		t.Errorf("long name length = %d, want %d", n, maxNameLen)
	}
}

func TestCut_PartialFailure(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	clip := &fakeClipper{fail: map[int]bool{2: true}}
	c := New(clip, settings(), layout, testLogger())

	list := []snippets.Snippet{
		snippet("snippet_1", "Bike", [2]float64{0, 2}, [2]float64{2, 4.5}),
		snippet("snippet_2", "Pump", [2]float64{5, 7}),
		snippet("snippet_3", "Helmet", [2]float64{8, 9}, [2]float64{12, 14}),
	}

	got, res, err := c.Cut(context.Background(), "/src/demo.mp4", list)
	if err != nil {
		t.Fatalf("Cut() error = %v", err)
	}
	if res.Cut != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	manifest, err := snippets.LoadManifest(layout.ManifestPath())
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	for i, want := range []string{"videos/bike.mp4", "", "videos/helmet.mp4"} {
		if got[i].VideoPath != want || manifest[i].VideoPath != want {
			t.Errorf("snippet %d video_path = %q (manifest %q), want %q", i+1, got[i].VideoPath, manifest[i].VideoPath, want)
		}
	}
	if list[0].VideoPath != "" {
		t.Error("input slice was mutated")
	}

	first := clip.specs[0]
	if first.Start != 0 || first.End != 4.5 || first.Input != "/src/demo.mp4" {
		t.Errorf("spec span = %+v", first)
	}
	if first.Width != 1080 || !first.ForceAspectRatio || first.AudioBitrate != "128k" {
		t.Errorf("settings not applied: %+v", first)
	}
	if clip.specs[2].Start != 8 || clip.specs[2].End != 14 {
		t.Errorf("third span = %v..%v", clip.specs[2].Start, clip.specs[2].End)
	}
}

func TestCut_SkipsEmptySnippet(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	clip := &fakeClipper{}
	c := New(clip, settings(), layout, testLogger())

	got, res, err := c.Cut(context.Background(), "in.mp4", []snippets.Snippet{
		{ID: "snippet_1", Title: "Nothing"},
		snippet("snippet_2", "Saw", [2]float64{1, 2}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || clip.calls.Load() != 1 {
		t.Errorf("result = %+v, calls = %d", res, clip.calls.Load())
	}
	if got[0].VideoPath != "" || got[1].VideoPath != "videos/saw.mp4" {
		t.Errorf("video paths = %q, %q", got[0].VideoPath, got[1].VideoPath)
	}
}

func TestCut_DuplicateTitlesGetDistinctFiles(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	c := New(&fakeClipper{}, settings(), layout, testLogger())

	got, _, err := c.Cut(context.Background(), "in.mp4", []snippets.Snippet{
		snippet("snippet_1", "Tyre", [2]float64{0, 1}),
		snippet("snippet_2", "tyre", [2]float64{1, 2}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].VideoPath == got[1].VideoPath {
		t.Errorf("both snippets render to %s", got[0].VideoPath)
	}
	if got[1].VideoPath != "videos/tyre_snippet_2.mp4" {
		t.Errorf("second path = %s", got[1].VideoPath)
	}
}

func TestCut_ReusesRenderedClips(t *testing.T) {
	layout := artifacts.NewLayout(t.TempDir(), "demo")
	clip := &fakeClipper{}
	c := New(clip, settings(), layout, testLogger())
	list := []snippets.Snippet{snippet("snippet_1", "Bike", [2]float64{0, 1})}

	first, _, err := c.Cut(context.Background(), "in.mp4", list)
	if err != nil {
		t.Fatal(err)
	}
	_, res, err := c.Cut(context.Background(), "in.mp4", first)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused != 1 || clip.calls.Load() != 1 {
		t.Errorf("second run result = %+v, calls = %d", res, clip.calls.Load())
	}
}
