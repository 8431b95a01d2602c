// Package frames samples one representative image per transcript segment.
package frames

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/media"
	"github.com/snuttify/snuttify/internal/transcript"
)

// Source is the subset of the media tool the extractor needs.
type Source interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
	ExtractFrame(ctx context.Context, videoPath, outPath string, at float64, rotation int) error
}

var _ Source = (*media.FFmpeg)(nil)

// Extractor grabs segment midpoint frames.
type Extractor struct {
	source Source
	logger *slog.Logger
}

// NewExtractor creates an extractor backed by source.
func NewExtractor(source Source, logger *slog.Logger) *Extractor {
	return &Extractor{source: source, logger: logger}
}

// Result summarises one extraction pass.
type Result struct {
	Extracted int
	Failed    int
}

// FileName encodes the segment index and the segment midpoint.
func FileName(index int, at float64) string {
	return fmt.Sprintf("segment_%03d_%.2fs.jpg", index, at)
}

// SeekTime converts a segment midpoint into the timestamp of the frame that
// contains it.
func SeekTime(midpoint, fps float64) float64 {
	if fps <= 0 {
		return midpoint
	}
	index := int(midpoint * fps)
	return float64(index) / fps
}

// Extract writes one frame per segment of doc into framesDir and records the
// relative path on the segment. A frame that cannot be read leaves the
// segment's FramePath nil; only a failed probe aborts the pass.
func (e *Extractor) Extract(ctx context.Context, videoPath string, doc *transcript.Document, framesDir string) (Result, error) {
	probe, err := e.source.Probe(ctx, videoPath)
	if err != nil {
		return Result{}, errs.Wrap(errs.ErrMediaTool, "frames", "probe", filepath.Base(videoPath), err)
	}
	e.logger.Info("extracting frames",
		"segments", len(doc.Segments),
		"fps", probe.FPS,
		"rotation", probe.Rotation,
	)

	var res Result
	for i := range doc.Segments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		seg := &doc.Segments[i]
		at := SeekTime(seg.Midpoint(), probe.FPS)
		if probe.Duration > 0 && at >= probe.Duration {
			e.logger.Warn("frame beyond end of stream", "segment", i, "at", at, "duration", probe.Duration)
			seg.FramePath = nil
			res.Failed++
			continue
		}

		name := FileName(i, seg.Midpoint())
		if err := e.source.ExtractFrame(ctx, videoPath, filepath.Join(framesDir, name), at, probe.Rotation); err != nil {
			e.logger.Warn("frame extraction failed", "segment", i, "at", at, "error", err)
			seg.FramePath = nil
			res.Failed++
			continue
		}
		seg.FramePath = transcript.StringPtr(path.Join("frames", name))
		res.Extracted++
	}

	e.logger.Info("frames extracted", "extracted", res.Extracted, "failed", res.Failed)
	return res, nil
}
