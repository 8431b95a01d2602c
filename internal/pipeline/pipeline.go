// Package pipeline sequences the processing stages of one video and runs
// videos on a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/snuttify/snuttify/internal/analysis"
	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/cutter"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/frames"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/media"
	"github.com/snuttify/snuttify/internal/progress"
	"github.com/snuttify/snuttify/internal/snippets"
	"github.com/snuttify/snuttify/internal/transcribe"
	"github.com/snuttify/snuttify/internal/transcript"
)

// AudioExtractor demuxes the audio track of a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
}

// FrameExtractor annotates transcript segments with frames.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string, doc *transcript.Document, framesDir string) (frames.Result, error)
}

// Recorder keeps a history of pipeline runs.
type Recorder interface {
	RunStarted(ctx context.Context, videoID, videoPath string) (string, error)
	RunFinished(ctx context.Context, runID string, snippetCount int, runErr error) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Audio       AudioExtractor
	Transcriber transcribe.Transcriber
	Frames      FrameExtractor
	Analyzer    analysis.Analyzer
	Clipper     cutter.Clipper
	CutSettings cutter.Settings
	Progress    *progress.Store
	Recorder    Recorder
	// StageTimeout bounds each external call; zero leaves them unbounded.
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Job identifies one video to process. OutputDir is the video directory under
// the library root.
type Job struct {
	VideoID           string
	VideoPath         string
	OutputDir         string
	SkipAudio         bool
	SkipTranscription bool
	SkipFrames        bool
}

// Result lists the artifacts of a run. Paths of stages that were skipped
// without an existing artifact are empty.
type Result struct {
	VideoID           string             `json:"video_id"`
	AudioPath         string             `json:"audio_path,omitempty"`
	TranscriptionPath string             `json:"transcription_path,omitempty"`
	FramesDir         string             `json:"frames_dir,omitempty"`
	ManifestPath      string             `json:"manifest_path,omitempty"`
	Snippets          []snippets.Snippet `json:"snippets,omitempty"`
}

// Orchestrator runs the stages of one video in order, reusing every artifact
// that already exists.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewStore(nil)
	}
	return &Orchestrator{deps: deps, logger: logging.WithComponent(deps.Logger, "pipeline")}
}

// Progress returns the store the orchestrator reports to.
func (o *Orchestrator) Progress() *progress.Store {
	return o.deps.Progress
}

// Run processes job end to end: audio, transcription, frames, snippets and
// clips. Any stage failure moves the video to the error state and is
// returned; a video already locked by another run returns errs.ErrBusy
// without touching its progress.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Result, error) {
	logger := logging.WithVideoID(o.logger, job.VideoID)
	layout := artifacts.LayoutAt(job.OutputDir)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}
	unlock, err := lockVideo(layout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker := o.deps.Progress.Tracker(job.VideoID)
	tracker.Uploading()

	runID := o.recordStart(ctx, job)
	start := time.Now()

	res, err := o.run(ctx, job, layout, tracker, logger)
	if err != nil {
		tracker.Error(err)
		logger.Error("pipeline failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		o.recordFinish(ctx, runID, 0, err)
		return nil, err
	}

	tracker.Complete(len(res.Snippets))
	logger.Info("pipeline complete", "snippets", len(res.Snippets), "elapsed_ms", time.Since(start).Milliseconds())
	o.recordFinish(ctx, runID, len(res.Snippets), nil)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, job Job, layout artifacts.Layout, tracker *progress.Tracker, logger *slog.Logger) (*Result, error) {
	if list, ok := fullyProcessed(layout); ok {
		return o.reuseAll(layout, list, tracker, logger)
	}

	res, doc, err := o.prepare(ctx, job, layout, tracker)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errs.Wrap(errs.ErrValidation, "snippets", "", "transcription was skipped and none exists", nil)
	}

	list, err := o.snippetStage(ctx, layout, doc, tracker, true)
	if err != nil {
		return nil, err
	}

	videoPath := job.VideoPath
	if videoPath == "" {
		videoPath = doc.VideoPath
	}
	list, err = o.videoStage(ctx, videoPath, layout, list, tracker)
	if err != nil {
		return nil, err
	}

	res.ManifestPath = layout.ManifestPath()
	res.Snippets = list
	return res, nil
}

// fullyProcessed returns the saved manifest when every artifact exists and
// every snippet with segments has its clip on disk.
func fullyProcessed(layout artifacts.Layout) ([]snippets.Snippet, bool) {
	if !layout.HasAudio() || !layout.HasTranscription() || !layout.HasFrames() ||
		!layout.HasManifest() || !layout.HasVideos() {
		return nil, false
	}
	list, err := snippets.LoadManifest(layout.ManifestPath())
	if err != nil {
		return nil, false
	}
	return list, allRendered(layout, list)
}

func (o *Orchestrator) reuseAll(layout artifacts.Layout, list []snippets.Snippet, tracker *progress.Tracker, logger *slog.Logger) (*Result, error) {
	tracker.UsingExisting(progress.StatusAudio, "audio")
	tracker.UsingExisting(progress.StatusTranscription, "transcription")
	tracker.UsingExisting(progress.StatusFrames, "frames")
	tracker.UsingExisting(progress.StatusSnippets, "snippets")
	tracker.UsingExisting(progress.StatusVideos, "video segments")
	logger.Info("using existing snippets and videos", "snippets", len(list))

	return &Result{
		VideoID:           layout.VideoID(),
		AudioPath:         layout.AudioPath(),
		TranscriptionPath: layout.TranscriptionPath(),
		FramesDir:         layout.FramesDir(),
		ManifestPath:      layout.ManifestPath(),
		Snippets:          list,
	}, nil
}

// Prepare runs only the audio, transcription and frame stages of job, honoring
// its skip flags. Progress is reported but the video is not completed.
func (o *Orchestrator) Prepare(ctx context.Context, job Job) (*Result, error) {
	layout := artifacts.LayoutAt(job.OutputDir)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}
	unlock, err := lockVideo(layout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker := o.deps.Progress.Tracker(job.VideoID)
	tracker.Uploading()
	res, _, err := o.prepare(ctx, job, layout, tracker)
	if err != nil {
		tracker.Error(err)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) prepare(ctx context.Context, job Job, layout artifacts.Layout, tracker *progress.Tracker) (*Result, *transcript.Document, error) {
	res := &Result{VideoID: job.VideoID}

	// audio
	switch {
	case layout.HasAudio():
		tracker.UsingExisting(progress.StatusAudio, "audio")
		res.AudioPath = layout.AudioPath()
	case job.SkipAudio:
		tracker.Skipping(progress.StatusAudio, "audio extraction")
	default:
		tracker.Update(progress.StatusAudio, "Extracting audio from video...")
		err := o.bounded(ctx, func(ctx context.Context) error {
			return o.deps.Audio.ExtractAudio(ctx, job.VideoPath, layout.AudioPath())
		})
		if err != nil {
			return nil, nil, err
		}
		res.AudioPath = layout.AudioPath()
	}

	// transcription
	var doc *transcript.Document
	switch {
	case layout.HasTranscription():
		tracker.UsingExisting(progress.StatusTranscription, "transcription")
		loaded, err := transcript.Load(layout.TranscriptionPath())
		if err != nil {
			return nil, nil, errs.Wrap(errs.ErrTranscription, "transcription", "load", "", err)
		}
		doc = loaded
		res.TranscriptionPath = layout.TranscriptionPath()
	case job.SkipTranscription:
		tracker.Skipping(progress.StatusTranscription, "transcription")
	default:
		if !layout.HasAudio() {
			return nil, nil, errs.Wrap(errs.ErrValidation, "transcription", "", "no audio to transcribe", nil)
		}
		tracker.Update(progress.StatusTranscription, "Transcribing audio...")
		err := o.bounded(ctx, func(ctx context.Context) error {
			var err error
			doc, err = o.deps.Transcriber.Transcribe(ctx, layout.AudioPath())
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		doc.Metadata.Filename = filepath.Base(job.VideoPath)
		doc.Metadata.Filepath = job.VideoPath
		doc.VideoPath = job.VideoPath
		if err := doc.Save(layout.TranscriptionPath()); err != nil {
			return nil, nil, fmt.Errorf("save transcription: %w", err)
		}
		res.TranscriptionPath = layout.TranscriptionPath()
	}

	// frames
	switch {
	case layout.HasFrames():
		tracker.UsingExisting(progress.StatusFrames, "frames")
		res.FramesDir = layout.FramesDir()
	case job.SkipFrames:
		tracker.Skipping(progress.StatusFrames, "frame extraction")
	case doc == nil:
		return nil, nil, errs.Wrap(errs.ErrValidation, "frames", "", "no transcription to sample frames for", nil)
	default:
		tracker.Update(progress.StatusFrames, "Extracting video frames...")
		err := o.bounded(ctx, func(ctx context.Context) error {
			_, err := o.deps.Frames.Extract(ctx, job.VideoPath, doc, layout.FramesDir())
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		if err := doc.Save(layout.TranscriptionPath()); err != nil {
			return nil, nil, fmt.Errorf("save transcription: %w", err)
		}
		res.FramesDir = layout.FramesDir()
	}

	return res, doc, nil
}

func (o *Orchestrator) snippetStage(ctx context.Context, layout artifacts.Layout, doc *transcript.Document, tracker *progress.Tracker, skipExisting bool) ([]snippets.Snippet, error) {
	if layout.HasManifest() {
		tracker.UsingExisting(progress.StatusSnippets, "snippets")
		return snippets.LoadManifest(layout.ManifestPath())
	}

	res, err := o.analyze(ctx, layout, layout.TranscriptionPath(), doc, tracker, true)
	if err != nil {
		return nil, err
	}

	tracker.Update(progress.StatusSnippets, "Creating snippets...")
	grouper := snippets.NewGrouper(layout, logging.WithStage(o.logger, "snippets"))
	return grouper.Group(doc, res, snippets.Options{SkipExisting: skipExisting})
}

// analyze returns the analysis stored in doc when reuse is set, otherwise asks
// the analyzer and saves the result back into the document at docPath.
func (o *Orchestrator) analyze(ctx context.Context, layout artifacts.Layout, docPath string, doc *transcript.Document, tracker *progress.Tracker, reuse bool) (*analysis.Result, error) {
	if reuse {
		stored, ok, err := analysis.Stored(doc)
		switch {
		case err != nil:
			o.logger.Warn("stored analysis unreadable, analyzing again", "video_id", layout.VideoID(), "error", err)
		case ok:
			tracker.UsingExisting(progress.StatusSnippets, "analysis")
			return stored, nil
		}
	}

	tracker.Update(progress.StatusSnippets, "Analyzing content...")
	req := analysis.NewRequest(doc, layout.Resolve)
	req.CallLogPath = layout.LLMCallPath()

	var res *analysis.Result
	err := o.bounded(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.deps.Analyzer.Analyze(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := analysis.Store(doc, res); err != nil {
		return nil, err
	}
	if err := doc.Save(docPath); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) videoStage(ctx context.Context, videoPath string, layout artifacts.Layout, list []snippets.Snippet, tracker *progress.Tracker) ([]snippets.Snippet, error) {
	if layout.HasVideos() && allRendered(layout, list) {
		tracker.UsingExisting(progress.StatusVideos, "video segments")
		return list, nil
	}
	if videoPath == "" {
		return nil, errs.Wrap(errs.ErrValidation, "videos", "", "source video path unknown", nil)
	}

	tracker.Update(progress.StatusVideos, "Cutting video segments...")
	c := cutter.New(o.clipper(), o.deps.CutSettings, layout, logging.WithStage(o.logger, "videos"))
	out, _, err := c.Cut(ctx, videoPath, list)
	return out, err
}

// clipper applies the stage timeout to every clip.
func (o *Orchestrator) clipper() cutter.Clipper {
	if o.deps.StageTimeout <= 0 {
		return o.deps.Clipper
	}
	return boundedClipper{inner: o.deps.Clipper, timeout: o.deps.StageTimeout}
}

type boundedClipper struct {
	inner   cutter.Clipper
	timeout time.Duration
}

func (b boundedClipper) Cut(ctx context.Context, spec media.CutSpec) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Cut(ctx, spec)
}

func allRendered(layout artifacts.Layout, list []snippets.Snippet) bool {
	for _, s := range list {
		if len(s.Segments) == 0 {
			continue
		}
		if s.VideoPath == "" || !artifacts.FileExists(layout.Resolve(s.VideoPath)) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) bounded(ctx context.Context, fn func(context.Context) error) error {
	if o.deps.StageTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, o.deps.StageTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("stage timed out after %s: %w", o.deps.StageTimeout, err)
	}
	return err
}

func (o *Orchestrator) recordStart(ctx context.Context, job Job) string {
	if o.deps.Recorder == nil {
		return ""
	}
	id, err := o.deps.Recorder.RunStarted(ctx, job.VideoID, job.VideoPath)
	if err != nil {
		o.logger.Warn("failed to record run start", "video_id", job.VideoID, "error", err)
		return ""
	}
	return id
}

func (o *Orchestrator) recordFinish(ctx context.Context, runID string, count int, runErr error) {
	if o.deps.Recorder == nil || runID == "" {
		return
	}
	if err := o.deps.Recorder.RunFinished(context.WithoutCancel(ctx), runID, count, runErr); err != nil {
		o.logger.Warn("failed to record run result", "run_id", runID, "error", err)
	}
}
