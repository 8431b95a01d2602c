package api

import (
	"time"

	"github.com/snuttify/snuttify/internal/catalog"
	"github.com/snuttify/snuttify/internal/snippets"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type UploadResponse struct {
	Status    string `json:"status"`
	VideoName string `json:"video_name"`
}

type SnippetsRequest struct {
	TranscriptionPath string `json:"transcription_path"`
	SkipAnalysis      bool   `json:"skip_analysis"`
	SkipExisting      bool   `json:"skip_existing"`
}

type SnippetsResponse struct {
	Snippets []snippets.Snippet `json:"snippets"`
}

type RunResponse struct {
	ID           string `json:"id"`
	VideoID      string `json:"video_id"`
	Status       string `json:"status"`
	SnippetCount int    `json:"snippet_count"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *catalog.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		VideoID:      r.VideoID,
		Status:       r.Status,
		SnippetCount: r.SnippetCount,
		Error:        r.Error,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
		resp.DurationMS = r.Duration().Milliseconds()
	}
	return resp
}
