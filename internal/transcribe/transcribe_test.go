package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/snuttify/snuttify/internal/errs"
)

const verboseBody = `{
  "task": "transcribe",
  "language": "swedish",
  "duration": 9.5,
  "text": "Här är en cykel. Den har nya däck.",
  "segments": [
    {"id": 0, "seek": 0, "text": " Här är en cykel.", "start": 0.0, "end": 3.1234},
    {"id": 1, "seek": 0, "text": " Den har nya däck.", "start": 3.1234, "end": 9.5}
  ],
  "words": [
    {"word": "Här", "start": 0.0, "end": 0.4},
    {"word": "är", "start": 0.4, "end": 0.61}
  ]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(path, []byte("ID3 fake mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAI_Transcribe(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		grans := append(r.MultipartForm.Value["timestamp_granularities[]"], r.MultipartForm.Value["timestamp_granularities"]...)
		if strings.Join(grans, ",") != "word,segment" {
			t.Errorf("timestamp_granularities = %v", grans)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file part missing: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, verboseBody)
	}))
	defer srv.Close()

	tr := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL + "/"}, testLogger())
	doc, err := tr.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if len(doc.Segments) != 2 || len(doc.Words) != 2 {
		t.Fatalf("segments=%d words=%d", len(doc.Segments), len(doc.Words))
	}
	if got := doc.Segments[0].Duration; got != 3.123 {
		t.Errorf("segment duration = %v, want 3.123", got)
	}
	if got := doc.Words[1].Duration; got != 0.21 {
		t.Errorf("word duration = %v, want 0.21", got)
	}
	if doc.Segments[1].Index != 1 || doc.Segments[1].FramePath != nil {
		t.Errorf("segment 1 = %+v", doc.Segments[1])
	}
	if doc.Metadata.Language != "swedish" || doc.Metadata.Duration != 9.5 {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
}

func TestOpenAI_ServerErrorIsTranscriptionError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	tr := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL + "/"}, testLogger())
	_, err := tr.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, errs.ErrTranscription) {
		t.Fatalf("error = %v, want ErrTranscription", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly one attempt", calls.Load())
	}
}

func TestOpenAI_MissingAudio(t *testing.T) {
	tr := NewOpenAI(Options{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/"}, testLogger())
	_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	if !errors.Is(err, errs.ErrTranscription) {
		t.Fatalf("error = %v, want ErrTranscription", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		resp    *VerboseResponse
		wantErr bool
	}{
		{name: "nil", resp: nil, wantErr: true},
		{name: "empty", resp: &VerboseResponse{}, wantErr: true},
		{name: "text without segments", resp: &VerboseResponse{Text: "hello"}, wantErr: true},
		{
			name:    "end before start",
			resp:    &VerboseResponse{Text: "x", Segments: []VerboseSegment{{Text: "x", Start: 2, End: 1}}},
			wantErr: true,
		},
		{
			name: "out of order",
			resp: &VerboseResponse{Text: "x", Segments: []VerboseSegment{
				{Text: "a", Start: 5, End: 6},
				{Text: "b", Start: 1, End: 2},
			}},
			wantErr: true,
		},
		{
			name: "duration falls back to last segment",
			resp: &VerboseResponse{Text: "x", Segments: []VerboseSegment{{Text: "x", Start: 0, End: 4.25}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Normalize(tt.resp)
			if tt.wantErr {
				if !errors.Is(err, errs.ErrTranscription) {
					t.Fatalf("error = %v, want ErrTranscription", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if doc.Metadata.Duration != 4.25 {
				t.Errorf("duration = %v", doc.Metadata.Duration)
			}
			if doc.Words == nil {
				t.Error("words should encode as an empty list, not null")
			}
		})
	}
}
