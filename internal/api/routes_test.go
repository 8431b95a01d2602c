package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/catalog"
	"github.com/snuttify/snuttify/internal/doctor"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/library"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/pipeline"
	"github.com/snuttify/snuttify/internal/playback"
	"github.com/snuttify/snuttify/internal/progress"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcript"
)

type fakePool struct {
	mu     sync.Mutex
	jobs   []pipeline.Job
	err    error
	active map[string]bool
}

func (f *fakePool) Submit(job pipeline.Job) (string, <-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.jobs = append(f.jobs, job)
	done := make(chan error, 1)
	done <- nil
	return job.VideoID, done, nil
}

func (f *fakePool) Active(videoID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[videoID]
}

type fakeProcessor struct {
	prepared []pipeline.Job
	regroups []string
	opts     pipeline.RegroupOptions
}

func (f *fakeProcessor) Prepare(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	f.prepared = append(f.prepared, job)
	return &pipeline.Result{VideoID: job.VideoID, AudioPath: filepath.Join(job.OutputDir, "audio.mp3")}, nil
}

func (f *fakeProcessor) Regroup(ctx context.Context, path string, opts pipeline.RegroupOptions) ([]snippets.Snippet, error) {
	f.regroups = append(f.regroups, path)
	f.opts = opts
	return []snippets.Snippet{{ID: "snippet_1", Title: "Bike"}}, nil
}

type fakeHistory struct {
	runs []*catalog.Run
}

func (f *fakeHistory) History(ctx context.Context, limit int) ([]*catalog.Run, error) {
	return f.runs, nil
}

func (f *fakeHistory) VideoHistory(ctx context.Context, videoID string, limit int) ([]*catalog.Run, error) {
	var out []*catalog.Run
	for _, r := range f.runs {
		if r.VideoID == videoID {
			out = append(out, r)
		}
	}
	return out, nil
}

type testEnv struct {
	handler   http.Handler
	cfg       ServerConfig
	pool      *fakePool
	processor *fakeProcessor
	root      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "library")

	layout := artifacts.NewLayout(root, "garage")
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	snippets.SaveManifest(layout.ManifestPath(), []snippets.Snippet{
		{ID: "snippet_1", Title: "Red Bike", Segments: []transcript.Segment{{Text: "road bike", End: 2, Duration: 2}}, VideoPath: "videos/red_bike.mp4"},
	})
	doc := &transcript.Document{Text: "road bike", Segments: []transcript.Segment{{Text: "road bike", End: 2, Duration: 2}}, Words: []transcript.Word{}}
	doc.Save(layout.TranscriptionPath())
	clip := make([]byte, 2000)
	os.WriteFile(filepath.Join(layout.VideosDir(), "red_bike.mp4"), clip, 0o644)

	finished := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	env := &testEnv{
		pool:      &fakePool{active: map[string]bool{}},
		processor: &fakeProcessor{},
		root:      root,
	}
	logger := logging.NewNop()
	env.cfg = ServerConfig{
		UploadsDir: filepath.Join(base, "uploads"),
		Pool:       env.pool,
		Processor:  env.processor,
		Progress:   progress.NewStore(nil),
		Library:    library.New(root, logger),
		Files:      playback.NewServer(root, logger),
		History: &fakeHistory{runs: []*catalog.Run{
			{ID: "r1", VideoID: "garage", Status: catalog.RunStatusCompleted, SnippetCount: 1,
				StartedAt: finished.Add(-5 * time.Second), FinishedAt: &finished},
		}},
		Logger:    logger,
		StartTime: time.Now(),
		Version:   "test",
	}
	env.handler = NewRouter(env.cfg)
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func multipartUpload(t *testing.T, target, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("video", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestUpload_QueuesJob(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, multipartUpload(t, "/api/upload", "bike shop.mp4", []byte("video-bytes"), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "success" || body["video_name"] != "bike shop" {
		t.Errorf("body = %v", body)
	}

	if len(env.pool.jobs) != 1 {
		t.Fatalf("jobs = %d", len(env.pool.jobs))
	}
	job := env.pool.jobs[0]
	if job.OutputDir != filepath.Join(env.root, "bike shop") {
		t.Errorf("OutputDir = %q", job.OutputDir)
	}
	data, err := os.ReadFile(job.VideoPath)
	if err != nil || string(data) != "video-bytes" {
		t.Errorf("saved upload = %q, %v", data, err)
	}
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		setup    func(env *testEnv)
		wantCode int
	}{
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "/api/upload", "", nil, map[string]string{"x": "y"})
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty file",
			req:      func(t *testing.T) *http.Request { return multipartUpload(t, "/api/upload", "a.mp4", nil, nil) },
			wantCode: http.StatusBadRequest,
		},
		{
			name: "video in flight",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "/api/upload", "garage.mp4", []byte("x"), nil)
			},
			setup:    func(env *testEnv) { env.pool.active["garage"] = true },
			wantCode: http.StatusConflict,
		},
		{
			name:     "queue full",
			req:      func(t *testing.T) *http.Request { return multipartUpload(t, "/api/upload", "b.mp4", []byte("x"), nil) },
			setup:    func(env *testEnv) { env.pool.err = errs.Wrap(errs.ErrQueueFull, "", "submit", "b", nil) },
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			rr := env.do(t, tt.req(t))
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestProcess_PassesSkipFlags(t *testing.T) {
	env := newTestEnv(t)
	req := multipartUpload(t, "/process", "clip.mov", []byte("v"), map[string]string{
		"skip_audio": "TRUE", "skip_transcription": "false",
	})
	rr := env.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	job := env.processor.prepared[0]
	if !job.SkipAudio || job.SkipTranscription || job.SkipFrames {
		t.Errorf("flags = %+v", job)
	}
	if body := decodeJSONBody(t, rr); body["video_id"] != "clip" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/status/garage", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown video status = %d", rr.Code)
	}

	env.cfg.Progress.Tracker("garage").Update(progress.StatusFrames, "Extracting video frames...")
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/status/garage", nil))
	body := decodeJSONBody(t, rr)
	if body["status"] != "frames" || body["progress"] != float64(45) {
		t.Errorf("body = %v", body)
	}
}

func TestArtifactsRoutes(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/transcription/garage", http.StatusOK},
		{"/api/transcription/missing", http.StatusNotFound},
		{"/api/snippets/garage", http.StatusOK},
		{"/api/snippets/missing", http.StatusNotFound},
		{"/api/library/garage/snippet_1", http.StatusOK},
		{"/api/library/snippet_1", http.StatusOK},
		{"/api/library/snippet_9", http.StatusNotFound},
		{"/api/video/garage/videos/red_bike.mp4", http.StatusOK},
		{"/api/video/garage/videos/none.mp4", http.StatusNotFound},
		{"/api/frame/garage/frames/none.jpg", http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := env.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != tt.wantCode {
			t.Errorf("GET %s = %d, want %d", tt.path, rr.Code, tt.wantCode)
		}
	}
}

func TestLibraryAndSearch(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/library", nil))
	var items []map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &items)
	if len(items) != 1 || items[0]["video_url"] != "/api/video/garage/videos/red_bike.mp4" || items[0]["video_name"] != "garage" {
		t.Errorf("library = %v", items)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/library/search?q=ROAD", nil))
	items = nil
	json.Unmarshal(rr.Body.Bytes(), &items)
	if len(items) != 1 || items[0]["id"] != "garage/snippet_1" {
		t.Errorf("search = %v", items)
	}
}

func TestVideoRange(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/video/garage/videos/red_bike.mp4", nil)
	req.Header.Set("Range", "bytes=500-999")
	rr := env.do(t, req)
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 500-999/2000" {
		t.Errorf("Content-Range = %q", got)
	}
	if n, _ := io.Copy(io.Discard, rr.Body); n != 500 {
		t.Errorf("body length = %d", n)
	}
}

func TestRegroup(t *testing.T) {
	env := newTestEnv(t)
	transcription := filepath.Join(env.root, "garage", "transcription.json")

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no path", `{}`, http.StatusBadRequest},
		{"outside library", `{"transcription_path":"/etc/passwd"}`, http.StatusBadRequest},
		{"missing file", `{"transcription_path":"` + filepath.Join(env.root, "nope", "transcription.json") + `"}`, http.StatusNotFound},
		{"ok", `{"transcription_path":"` + transcription + `","skip_analysis":true}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, httptest.NewRequest(http.MethodPost, "/api/snippets", strings.NewReader(tt.body)))
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
	if len(env.processor.regroups) != 1 || !env.processor.opts.SkipAnalysis {
		t.Errorf("regroups = %v opts = %+v", env.processor.regroups, env.processor.opts)
	}
}

func TestRunHistory(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	var resp RunsResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Runs) != 1 || resp.Runs[0].DurationMS != 5000 {
		t.Errorf("runs = %+v", resp.Runs)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown video runs = %d", rr.Code)
	}
}

type fakeDoctor struct{}

func (fakeDoctor) Get(ctx context.Context) (*doctor.Capabilities, error) {
	return &doctor.Capabilities{AllOK: true, Executables: map[string]doctor.DepInfo{"ffmpeg": {Available: true, Version: "6.1"}}}, nil
}

func TestDoctor(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/doctor", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unconfigured doctor = %d, want 404", rr.Code)
	}

	env.cfg.Doctor = fakeDoctor{}
	env.handler = NewRouter(env.cfg)
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/doctor", nil))
	var caps doctor.Capabilities
	json.Unmarshal(rr.Body.Bytes(), &caps)
	if rr.Code != http.StatusOK || !caps.AllOK || caps.Executables["ffmpeg"].Version != "6.1" {
		t.Errorf("doctor = %d %s", rr.Code, rr.Body.String())
	}
}

func TestUpload_LockedVideoRefusedBeforeSaving(t *testing.T) {
	env := newTestEnv(t)
	layout, err := env.cfg.Library.Layout("garage")
	if err != nil {
		t.Fatal(err)
	}
	lock := flock.New(layout.LockPath())
	if ok, err := lock.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer lock.Unlock()

	for _, target := range []string{"/api/upload", "/process"} {
		rr := env.do(t, multipartUpload(t, target, "garage.mp4", []byte("new-bytes"), nil))
		if rr.Code != http.StatusConflict {
			t.Errorf("%s status = %d, want 409 (%s)", target, rr.Code, rr.Body.String())
		}
	}
	if _, err := os.Stat(filepath.Join(env.cfg.UploadsDir, "garage.mp4")); !os.IsNotExist(err) {
		t.Errorf("upload saved while the video was locked: %v", err)
	}
	if len(env.pool.jobs) != 0 || len(env.processor.prepared) != 0 {
		t.Errorf("jobs = %d prepared = %d", len(env.pool.jobs), len(env.processor.prepared))
	}
}
