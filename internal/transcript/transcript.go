// Package transcript holds the transcription document shared by every stage
// after speech-to-text.
package transcript

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/snuttify/snuttify/internal/artifacts"
)

// Word is a single timed word.
type Word struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// Segment is a time-bounded span of transcript text. FramePath is relative to
// the video directory and stays nil until a frame has been extracted.
type Segment struct {
	Index     int     `json:"index"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Duration  float64 `json:"duration"`
	FramePath *string `json:"frame_path"`
}

// Midpoint returns the temporal centre of the segment.
func (s Segment) Midpoint() float64 {
	return (s.Start + s.End) / 2
}

// Metadata describes the transcribed media.
type Metadata struct {
	Filename string  `json:"filename,omitempty"`
	Filepath string  `json:"filepath,omitempty"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Document is the transcription artifact. Analysis holds the stored analysis
// result verbatim once content analysis has run.
type Document struct {
	Metadata  Metadata        `json:"metadata"`
	Text      string          `json:"text"`
	Segments  []Segment       `json:"segments"`
	Words     []Word          `json:"words"`
	VideoPath string          `json:"video_path,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
}

// Load reads a transcription document from disk.
func Load(path string) (*Document, error) {
	var doc Document
	if err := artifacts.ReadJSON(path, &doc); err != nil {
		return nil, err
	}
	doc.Reindex()
	return &doc, nil
}

// Save persists the document.
func (d *Document) Save(path string) error {
	return artifacts.WriteJSON(path, d)
}

// Reindex sets every segment's Index to its position.
func (d *Document) Reindex() {
	for i := range d.Segments {
		d.Segments[i].Index = i
	}
}

// NumberedText renders one line per segment as "<index>. <text>".
func (d *Document) NumberedText() string {
	var b strings.Builder
	for i, seg := range d.Segments {
		fmt.Fprintf(&b, "%d. %s\n", i, strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// Language returns the detected language, defaulting to "en".
func (d *Document) Language() string {
	if d.Metadata.Language == "" {
		return "en"
	}
	return d.Metadata.Language
}

// FrameCount returns how many segments carry a frame reference.
func (d *Document) FrameCount() int {
	n := 0
	for _, seg := range d.Segments {
		if seg.FramePath != nil {
			n++
		}
	}
	return n
}

// RoundMillis rounds seconds to millisecond precision.
func RoundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
