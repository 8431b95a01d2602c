// Package media runs the ffmpeg and ffprobe binaries that back audio
// extraction, frame sampling and clip rendering.
package media

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/snuttify/snuttify/internal/errs"
)

// RunResult is the structured outcome of executing a media tool subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ToolError reports a media tool that exited non-zero or produced no output.
// It matches errs.ErrMediaTool.
type ToolError struct {
	Tool     string
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Tool, e.Op)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exited %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		fmt.Fprintf(&b, ": %s", truncate(tail, 512))
	}
	return b.String()
}

func (e *ToolError) Unwrap() []error {
	if e.Err != nil {
		return []error{errs.ErrMediaTool, e.Err}
	}
	return []error{errs.ErrMediaTool}
}

func newToolError(tool, op string, res RunResult, err error) *ToolError {
	return &ToolError{
		Tool:     tool,
		Op:       op,
		ExitCode: res.ExitCode,
		Stderr:   res.StderrTail,
		Err:      err,
	}
}

// ProbeResult holds the video stream facts frame sampling needs.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
	FPS      float64
	Codec    string
	// Rotation is the clockwise rotation, in degrees, needed to display the
	// stored frames upright: 0, 90, 180 or 270.
	Rotation int
}

// CutSpec describes one clip rendering.
type CutSpec struct {
	Input            string
	Output           string
	Start            float64
	End              float64
	Width            int
	Height           int
	ForceAspectRatio bool
	VideoCodec       string
	Preset           string
	CRF              int
	AudioCodec       string
	AudioBitrate     string
}

// truncate keeps at most the last maxLen bytes of s, starting on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	start := len(s) - maxLen
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
