package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/pipeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthToken, cfg.Logger))

		r.Post("/process", processHandler(cfg))

		r.Post("/api/upload", uploadHandler(cfg))
		r.Get("/api/status/{video}", statusHandler(cfg))
		r.Get("/api/transcription/{video}", transcriptionHandler(cfg))
		r.Get("/api/snippets/{video}", snippetsHandler(cfg))
		r.Post("/api/snippets", regroupHandler(cfg))
		r.Get("/api/library", libraryHandler(cfg))
		r.Get("/api/library/search", searchHandler(cfg))
		r.Get("/api/library/*", libraryItemHandler(cfg))
		r.Get("/api/video/*", fileHandler(cfg))
		r.Get("/api/frame/*", fileHandler(cfg))
		r.Get("/api/jobs", listRunsHandler(cfg))
		r.Get("/api/jobs/{video}", videoRunsHandler(cfg))
		r.Get("/api/doctor", doctorHandler(cfg))
	})

	return r
}

func doctorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusNotFound, "doctor not configured", "NOT_FOUND")
			return
		}
		caps, err := cfg.Doctor.Get(r.Context())
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, caps)
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

// receiveVideo stores the multipart "video" field in the uploads directory and
// returns the saved path and the derived video id.
func receiveVideo(cfg ServerConfig, r *http.Request, active func(string) bool) (string, string, error) {
	file, header, err := r.FormFile("video")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", "", errs.Wrap(errs.ErrValidation, "upload", "", "No video file provided", nil)
		}
		return "", "", errs.Wrap(errs.ErrValidation, "upload", "", "invalid upload", err)
	}
	defer file.Close()

	name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(header.Filename, "\\", "/")))
	videoID := artifacts.VideoID(name)
	if name == "." || name == string(filepath.Separator) || videoID == "" || strings.HasPrefix(name, ".") {
		return "", "", errs.Wrap(errs.ErrValidation, "upload", "", "No video file selected", nil)
	}
	if header.Size == 0 {
		return "", "", errs.Wrap(errs.ErrValidation, "upload", "", "uploaded video is empty", nil)
	}
	if active != nil && active(videoID) {
		return "", "", errs.Wrap(errs.ErrBusy, "upload", "", videoID, nil)
	}

	path, err := saveUpload(cfg.UploadsDir, name, file)
	if err != nil {
		return "", "", err
	}
	return path, videoID, nil
}

// videoBusy reports whether videoID is queued in the pool or locked by a run
// elsewhere, such as a synchronous /process request or the CLI.
func videoBusy(cfg ServerConfig) func(string) bool {
	return func(videoID string) bool {
		if cfg.Pool != nil && cfg.Pool.Active(videoID) {
			return true
		}
		layout, err := cfg.Library.Layout(videoID)
		return err == nil && pipeline.Locked(layout)
	}
}

func saveUpload(dir, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return dest, nil
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, videoID, err := receiveVideo(cfg, r, videoBusy(cfg))
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}

		layout, err := cfg.Library.Layout(videoID)
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		id, _, err := cfg.Pool.Submit(pipeline.Job{
			VideoID:   videoID,
			VideoPath: path,
			OutputDir: layout.Dir(),
		})
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}

		cfg.Logger.Info("video queued", "video_id", id, "path", path)
		WriteJSON(w, http.StatusOK, UploadResponse{Status: "success", VideoName: id})
	}
}

func processHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, videoID, err := receiveVideo(cfg, r, videoBusy(cfg))
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		layout, err := cfg.Library.Layout(videoID)
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}

		res, err := cfg.Processor.Prepare(r.Context(), pipeline.Job{
			VideoID:           videoID,
			VideoPath:         path,
			OutputDir:         layout.Dir(),
			SkipAudio:         formFlag(r, "skip_audio"),
			SkipTranscription: formFlag(r, "skip_transcription"),
			SkipFrames:        formFlag(r, "skip_frames"),
		})
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func formFlag(r *http.Request, key string) bool {
	return strings.EqualFold(strings.TrimSpace(r.FormValue(key)), "true")
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := cfg.Progress.Get(chi.URLParam(r, "video"))
		if !ok {
			WriteError(w, http.StatusNotFound, "Video not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func transcriptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cfg.Library.Transcription(chi.URLParam(r, "video"))
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

func snippetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.Library.Manifest(chi.URLParam(r, "video"))
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, list)
	}
}

func regroupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SnippetsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.TranscriptionPath == "" {
			WriteError(w, http.StatusBadRequest, "No transcription path provided", "BAD_REQUEST")
			return
		}
		path, err := insideLibrary(cfg.Library.Root(), req.TranscriptionPath)
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		if !artifacts.FileExists(path) {
			WriteError(w, http.StatusNotFound, "Transcription file not found", "NOT_FOUND")
			return
		}

		list, err := cfg.Processor.Regroup(r.Context(), path, pipeline.RegroupOptions{
			SkipAnalysis: req.SkipAnalysis,
			SkipExisting: req.SkipExisting,
		})
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SnippetsResponse{Snippets: list})
	}
}

// insideLibrary resolves p against the working directory and requires it to
// name a transcription inside root.
func insideLibrary(root, p string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errs.Wrap(errs.ErrValidation, "snippets", "", "invalid transcription path", err)
	}
	if !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) || filepath.Base(abs) != artifacts.TranscriptionFile {
		return "", errs.Wrap(errs.ErrValidation, "snippets", "", "transcription path must be a "+artifacts.TranscriptionFile+" inside the library", nil)
	}
	return abs, nil
}

func libraryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := cfg.Library.List()
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, items)
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := cfg.Library.Search(r.URL.Query().Get("q"))
		if err != nil {
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, items)
	}
}

func libraryItemHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := cfg.Library.Get(chi.URLParam(r, "*"))
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Snippet not found", "NOT_FOUND")
				return
			}
			WriteErr(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	}
}

func fileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		if err := cfg.Files.ServeFile(w, r, rel); err != nil {
			cfg.Logger.Error("playback error", "error", err, "path", rel)
		}
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteJSON(w, http.StatusOK, RunsResponse{Runs: []RunResponse{}})
			return
		}
		runs, err := cfg.History.History(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func videoRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteError(w, http.StatusNotFound, "no run history", "NOT_FOUND")
			return
		}
		runs, err := cfg.History.VideoHistory(r.Context(), chi.URLParam(r, "video"), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		if len(runs) == 0 {
			WriteError(w, http.StatusNotFound, "no runs for video", "NOT_FOUND")
			return
		}
		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
