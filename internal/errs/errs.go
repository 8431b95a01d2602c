// Package errs defines the error markers shared by the pipeline stages and the
// HTTP boundary.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMediaTool     = errors.New("media tool error")
	ErrTranscription = errors.New("transcription error")
	ErrAnalysis      = errors.New("analysis error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrBusy          = errors.New("video is being processed")
	ErrQueueFull     = errors.New("processing queue is full")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker. The marker should be one of the exported sentinels above;
// a nil marker leaves the error untagged.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine readable code used in API error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "BAD_REQUEST"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	case errors.Is(err, ErrQueueFull):
		return "QUEUE_FULL"
	case errors.Is(err, ErrMediaTool):
		return "MEDIA_TOOL_ERROR"
	case errors.Is(err, ErrTranscription):
		return "TRANSCRIPTION_ERROR"
	case errors.Is(err, ErrAnalysis):
		return "ANALYSIS_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
