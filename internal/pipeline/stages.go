package pipeline

import (
	"context"
	"path/filepath"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/cutter"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcript"
)

// RegroupOptions tunes Regroup.
type RegroupOptions struct {
	// SkipAnalysis reuses the analysis stored in the transcription when one
	// exists.
	SkipAnalysis bool
	// SkipExisting keeps snippet files that are already on disk.
	SkipExisting bool
}

// Regroup rebuilds the snippets of the video owning transcriptionPath. The
// stored analysis is still validated against the current segments.
func (o *Orchestrator) Regroup(ctx context.Context, transcriptionPath string, opts RegroupOptions) ([]snippets.Snippet, error) {
	if !artifacts.FileExists(transcriptionPath) {
		return nil, errs.Wrap(errs.ErrNotFound, "snippets", "", "transcription "+filepath.Base(transcriptionPath), nil)
	}
	layout := artifacts.LayoutAt(filepath.Dir(transcriptionPath))
	unlock, err := lockVideo(layout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := transcript.Load(transcriptionPath)
	if err != nil {
		return nil, err
	}
	res, err := o.analyze(ctx, layout, transcriptionPath, doc, nil, opts.SkipAnalysis)
	if err != nil {
		return nil, err
	}
	grouper := snippets.NewGrouper(layout, logging.WithStage(logging.WithVideoID(o.logger, layout.VideoID()), "snippets"))
	return grouper.Group(doc, res, snippets.Options{SkipExisting: opts.SkipExisting})
}

// Cut renders the clips listed in the manifest of the video directory dir.
// An empty videoPath falls back to the source recorded in the transcription.
func (o *Orchestrator) Cut(ctx context.Context, dir, videoPath string) ([]snippets.Snippet, cutter.Result, error) {
	layout := artifacts.LayoutAt(dir)
	if !layout.HasManifest() {
		return nil, cutter.Result{}, errs.Wrap(errs.ErrNotFound, "videos", "", "snippets manifest for "+layout.VideoID(), nil)
	}
	unlock, err := lockVideo(layout)
	if err != nil {
		return nil, cutter.Result{}, err
	}
	defer unlock()

	list, err := snippets.LoadManifest(layout.ManifestPath())
	if err != nil {
		return nil, cutter.Result{}, err
	}
	if videoPath == "" {
		doc, err := transcript.Load(layout.TranscriptionPath())
		if err != nil {
			return nil, cutter.Result{}, err
		}
		videoPath = doc.VideoPath
	}
	if videoPath == "" {
		return nil, cutter.Result{}, errs.Wrap(errs.ErrValidation, "videos", "", "source video path unknown", nil)
	}

	c := cutter.New(o.clipper(), o.deps.CutSettings, layout, logging.WithStage(logging.WithVideoID(o.logger, layout.VideoID()), "videos"))
	return c.Cut(ctx, videoPath, list)
}
