package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		SideDataType string  `json:"side_data_type"`
		Rotation     float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// Probe inspects the first video stream of path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res, err := f.runner.Run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	if err != nil || !res.IsSuccess() {
		return nil, newToolError("ffprobe", "inspect", res, err)
	}
	probe, err := ParseProbe(res.Stdout)
	if err != nil {
		return nil, newToolError("ffprobe", "parse", res, err)
	}
	return probe, nil
}

// ParseProbe decodes ffprobe JSON output into a ProbeResult.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe json: %w", err)
	}

	var video *probeStream
	for i := range out.Streams {
		if strings.EqualFold(out.Streams[i].CodecType, "video") {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, errors.New("no video stream")
	}

	fps := parseRate(video.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(video.RFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("unknown frame rate %q", video.AvgFrameRate)
	}

	duration := parseFloat(out.Format.Duration)
	if duration <= 0 {
		duration = parseFloat(video.Duration)
	}

	return &ProbeResult{
		Duration: duration,
		Width:    video.Width,
		Height:   video.Height,
		FPS:      fps,
		Codec:    video.CodecName,
		Rotation: streamRotation(video),
	}, nil
}

// streamRotation prefers the legacy rotate tag (clockwise degrees) and falls
// back to the display matrix, whose rotation is counter-clockwise.
func streamRotation(s *probeStream) int {
	if tag, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
			return NormalizeRotation(deg)
		}
	}
	for _, sd := range s.SideDataList {
		if strings.EqualFold(sd.SideDataType, "Display Matrix") && sd.Rotation != 0 {
			return NormalizeRotation(-int(math.Round(sd.Rotation)))
		}
	}
	return 0
}

func parseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" || rate == "0/0" {
		return 0
	}
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		return parseFloat(rate)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}
