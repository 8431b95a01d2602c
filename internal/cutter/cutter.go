// Package cutter renders one clip per snippet.
package cutter

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/media"
	"github.com/snuttify/snuttify/internal/snippets"
)

// Clipper trims and re-encodes one span of a video.
type Clipper interface {
	Cut(ctx context.Context, spec media.CutSpec) error
}

var _ Clipper = (*media.FFmpeg)(nil)

// Settings is the rendering profile applied to every clip.
type Settings struct {
	Width            int
	Height           int
	ForceAspectRatio bool
	VideoCodec       string
	Preset           string
	CRF              int
	AudioCodec       string
	AudioBitrate     string
}

const maxNameLen = 80

// Cutter renders snippet clips into a video directory.
type Cutter struct {
	clipper  Clipper
	settings Settings
	layout   artifacts.Layout
	logger   *slog.Logger
}

// New creates a cutter.
func New(clipper Clipper, settings Settings, layout artifacts.Layout, logger *slog.Logger) *Cutter {
	return &Cutter{clipper: clipper, settings: settings, layout: layout, logger: logger}
}

// Result counts what happened to each snippet.
type Result struct {
	Cut     int
	Reused  int
	Skipped int
	Failed  int
}

// Cut renders every snippet with segments and attaches its video_path. Empty
// snippets are skipped and a failed render leaves that snippet without a
// video_path; neither stops the run. The manifest is rewritten at the end and
// only a failure to write it is returned.
func (c *Cutter) Cut(ctx context.Context, videoPath string, list []snippets.Snippet) ([]snippets.Snippet, Result, error) {
	out := make([]snippets.Snippet, len(list))
	copy(out, list)

	var res Result
	used := make(map[string]bool, len(out))
	for i := range out {
		s := &out[i]
		if len(s.Segments) == 0 {
			c.logger.Warn("snippet has no segments, skipping", "snippet_id", s.ID, "title", s.Title)
			s.VideoPath = ""
			res.Skipped++
			continue
		}
		if s.VideoPath != "" && artifacts.FileExists(c.layout.Resolve(s.VideoPath)) {
			used[path.Base(s.VideoPath)] = true
			res.Reused++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}

		name := SafeName(s.Title)
		if name == "" {
			name = s.ID
		}
		file := name + ".mp4"
		if used[file] {
			file = name + "_" + s.ID + ".mp4"
		}
		used[file] = true
		rel := path.Join(artifacts.VideosDir, file)

		spec := c.spec(videoPath, c.layout.Resolve(rel), s.Start(), s.End())
		c.logger.Info("cutting snippet",
			"snippet_id", s.ID,
			"start", spec.Start,
			"end", spec.End,
			"output", rel,
		)
		if err := c.clipper.Cut(ctx, spec); err != nil {
			c.logger.Error("failed to cut snippet", "snippet_id", s.ID, "title", s.Title, "error", err)
			s.VideoPath = ""
			res.Failed++
			continue
		}
		s.VideoPath = rel
		res.Cut++
	}

	if err := snippets.SaveManifest(c.layout.ManifestPath(), out); err != nil {
		return nil, res, err
	}
	c.logger.Info("clips rendered",
		"cut", res.Cut,
		"reused", res.Reused,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return out, res, nil
}

func (c *Cutter) spec(input, output string, start, end float64) media.CutSpec {
	return media.CutSpec{
		Input:            input,
		Output:           output,
		Start:            start,
		End:              end,
		Width:            c.settings.Width,
		Height:           c.settings.Height,
		ForceAspectRatio: c.settings.ForceAspectRatio,
		VideoCodec:       c.settings.VideoCodec,
		Preset:           c.settings.Preset,
		CRF:              c.settings.CRF,
		AudioCodec:       c.settings.AudioCodec,
		AudioBitrate:     c.settings.AudioBitrate,
	}
}

// SafeName lowercases title and replaces every rune that is not a letter or
// digit with an underscore. Control characters are dropped and the result is
// capped at 80 runes.
func SafeName(title string) string {
	var b strings.Builder
	// a Caser is stateful, so one is built per call
	for _, r := range cases.Lower(language.Und).String(strings.TrimSpace(title)) {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	runes := []rune(b.String())
	if len(runes) > maxNameLen {
		runes = runes[:maxNameLen]
	}
	return string(runes)
}
