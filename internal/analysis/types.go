// Package analysis asks a multimodal model to group transcript segments into
// snippets.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/transcript"
)

// Analyzer produces groupings for one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Grouping is one proposed snippet: a title, a description and the indices of
// the segments it covers. The remaining attributes describe the product shown.
type Grouping struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Segments      []int    `json:"segments"`
	ProductType   string   `json:"product_type,omitempty"`
	Condition     string   `json:"condition,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Compatibility string   `json:"compatibility,omitempty"`
	Modifications []string `json:"modifications,omitempty"`
	MissingParts  []string `json:"missing_parts,omitempty"`
	IntendedUse   string   `json:"intended_use,omitempty"`
}

// Result is the structured response of the analysis model.
type Result struct {
	Snippets []Grouping `json:"snippets"`
}

// Image is a segment frame attached to the request.
type Image struct {
	SegmentIndex int
	Path         string
}

// Request carries everything the model sees for one video.
type Request struct {
	// NumberedText holds one "<index>. <text>" line per segment.
	NumberedText string
	Language     string
	Images       []Image
	// CallLogPath, when set, receives a markdown record of the call.
	CallLogPath string
}

// NewRequest builds a request from doc, attaching every segment frame that
// resolve maps to an existing file.
func NewRequest(doc *transcript.Document, resolve func(rel string) string) Request {
	req := Request{
		NumberedText: doc.NumberedText(),
		Language:     doc.Language(),
	}
	for i, seg := range doc.Segments {
		if seg.FramePath == nil || *seg.FramePath == "" {
			continue
		}
		req.Images = append(req.Images, Image{SegmentIndex: i, Path: resolve(*seg.FramePath)})
	}
	return req
}

// Decode parses a model response. The payload must be a JSON object with a
// "snippets" array whose entries carry a title and a segments list; fields
// outside the schema are rejected. A payload wrapped in prose or code fences is
// retried on its outermost JSON object.
func Decode(content string) (*Result, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "decode", "empty response", nil)
	}
	res, err := decodeStrict(trimmed)
	if err == nil {
		return res, nil
	}
	if obj := extractFirstJSONObject(trimmed); obj != "" && obj != trimmed {
		if res, retryErr := decodeStrict(obj); retryErr == nil {
			return res, nil
		}
	}
	return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "decode", truncate(trimmed, 200), err)
}

type wireGrouping struct {
	Title         *string  `json:"title"`
	Description   string   `json:"description"`
	Segments      *[]int   `json:"segments"`
	ProductType   *string  `json:"product_type"`
	Condition     *string  `json:"condition"`
	Brand         *string  `json:"brand"`
	Compatibility *string  `json:"compatibility"`
	Modifications []string `json:"modifications"`
	MissingParts  []string `json:"missing_parts"`
	IntendedUse   *string  `json:"intended_use"`
}

func decodeStrict(payload string) (*Result, error) {
	var wire struct {
		Snippets *[]wireGrouping `json:"snippets"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	if wire.Snippets == nil {
		return nil, fmt.Errorf("missing snippets array")
	}

	res := &Result{Snippets: make([]Grouping, 0, len(*wire.Snippets))}
	for i, w := range *wire.Snippets {
		if w.Title == nil || strings.TrimSpace(*w.Title) == "" {
			return nil, fmt.Errorf("snippet %d: missing title", i)
		}
		if w.Segments == nil {
			return nil, fmt.Errorf("snippet %d: missing segments", i)
		}
		res.Snippets = append(res.Snippets, Grouping{
			Title:         strings.TrimSpace(*w.Title),
			Description:   strings.TrimSpace(w.Description),
			Segments:      *w.Segments,
			ProductType:   deref(w.ProductType),
			Condition:     deref(w.Condition),
			Brand:         deref(w.Brand),
			Compatibility: deref(w.Compatibility),
			Modifications: w.Modifications,
			MissingParts:  w.MissingParts,
			IntendedUse:   deref(w.IntendedUse),
		})
	}
	return res, nil
}

// Stored returns the analysis saved in doc, if any.
func Stored(doc *transcript.Document) (*Result, bool, error) {
	if len(doc.Analysis) == 0 || string(doc.Analysis) == "null" {
		return nil, false, nil
	}
	var res Result
	if err := json.Unmarshal(doc.Analysis, &res); err != nil {
		return nil, false, errs.Wrap(errs.ErrAnalysis, "analysis", "load stored", "", err)
	}
	return &res, true, nil
}

// Store saves res into doc so later runs can reuse it.
func Store(doc *transcript.Document, res *Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	doc.Analysis = raw
	return nil
}

func extractFirstJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
