package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNoFrame reports that ffmpeg exited cleanly but wrote no image, which
// happens when seeking past the end of the stream.
var ErrNoFrame = errors.New("no frame decoded")

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewFFmpeg builds an FFmpeg using runner; empty binary names fall back to
// "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(runner Runner, ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{runner: runner, ffmpeg: ffmpegPath, ffprobe: ffprobePath, logger: logger}
}

// ExtractAudio demuxes the audio track of videoPath into an MP3 at outPath,
// overwriting any previous file.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	return f.run(ctx, "extract audio", outPath, ExtractAudioArgs(videoPath, outPath)...)
}

// ExtractFrame writes one JPEG at timestamp `at` (seconds). Autorotation is
// disabled and the given clockwise rotation applied explicitly.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath, outPath string, at float64, rotation int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create frames dir: %w", err)
	}
	return f.run(ctx, "extract frame", outPath, ExtractFrameArgs(videoPath, outPath, at, rotation)...)
}

// Cut renders one clip described by spec.
func (f *FFmpeg) Cut(ctx context.Context, spec CutSpec) error {
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0o755); err != nil {
		return fmt.Errorf("create videos dir: %w", err)
	}
	return f.run(ctx, "cut", spec.Output, CutArgs(spec)...)
}

func (f *FFmpeg) run(ctx context.Context, op, outPath string, args ...string) error {
	res, err := f.runner.Run(ctx, f.ffmpeg, args...)
	if err != nil || !res.IsSuccess() {
		return newToolError("ffmpeg", op, res, err)
	}
	info, statErr := os.Stat(outPath)
	if statErr != nil || info.Size() == 0 {
		if op == "extract frame" {
			return newToolError("ffmpeg", op, res, ErrNoFrame)
		}
		return newToolError("ffmpeg", op, res, errors.New("no output written"))
	}
	return nil
}

// ExtractAudioArgs builds: -i <in> -vn -acodec libmp3lame -q:a 2 -y <out>.
func ExtractAudioArgs(videoPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-y",
		outPath,
	}
}

// ExtractFrameArgs builds a single-frame grab at `at` seconds.
func ExtractFrameArgs(videoPath, outPath string, at float64, rotation int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-noautorotate",
		"-ss", fmtSeconds(at),
		"-i", videoPath,
		"-frames:v", "1",
	}
	if filter := RotationFilter(rotation); filter != "" {
		args = append(args, "-vf", filter)
	}
	return append(args, "-q:v", "2", "-y", outPath)
}

// RotationFilter returns the filter that turns stored frames upright for a
// clockwise rotation of 90, 180 or 270 degrees.
func RotationFilter(rotation int) string {
	switch NormalizeRotation(rotation) {
	case 90:
		return "transpose=1"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// NormalizeRotation maps any multiple of 90 degrees into [0, 360) and snaps
// other values to the nearest quarter turn.
func NormalizeRotation(rotation int) int {
	r := rotation % 360
	if r < 0 {
		r += 360
	}
	return ((r + 45) / 90 * 90) % 360
}

// ScalePadFilter letterboxes or pillarboxes into width x height.
func ScalePadFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height,
	)
}

// CutArgs builds the clip rendering command for spec.
func CutArgs(spec CutSpec) []string {
	args := []string{
		"-hide_banner",
		"-y",
		"-ss", fmtSeconds(spec.Start),
		"-to", fmtSeconds(spec.End),
		"-i", spec.Input,
	}
	if spec.ForceAspectRatio && spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-vf", ScalePadFilter(spec.Width, spec.Height))
	}
	if spec.VideoCodec != "" {
		args = append(args, "-c:v", spec.VideoCodec)
	}
	if spec.Preset != "" {
		args = append(args, "-preset", spec.Preset)
	}
	if spec.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(spec.CRF))
	}
	if spec.AudioCodec != "" {
		args = append(args, "-c:a", spec.AudioCodec)
	}
	if spec.AudioBitrate != "" {
		args = append(args, "-b:a", spec.AudioBitrate)
	}
	return append(args, "-movflags", "+faststart", spec.Output)
}

func fmtSeconds(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
