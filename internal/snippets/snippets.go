// Package snippets turns analysis groupings into persisted snippet records.
package snippets

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/snuttify/snuttify/internal/analysis"
	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/transcript"
)

// Snippet is a titled group of transcript segments. Segments are copies taken
// at grouping time. VideoPath is relative to the video directory and is set
// once the clip has been rendered.
type Snippet struct {
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	ProductType   string               `json:"product_type,omitempty"`
	Condition     string               `json:"condition,omitempty"`
	Brand         string               `json:"brand,omitempty"`
	Compatibility string               `json:"compatibility,omitempty"`
	Modifications []string             `json:"modifications,omitempty"`
	MissingParts  []string             `json:"missing_parts,omitempty"`
	IntendedUse   string               `json:"intended_use,omitempty"`
	Segments      []transcript.Segment `json:"segments"`
	VideoPath     string               `json:"video_path,omitempty"`
}

// Start returns the start of the first segment.
func (s Snippet) Start() float64 {
	if len(s.Segments) == 0 {
		return 0
	}
	return s.Segments[0].Start
}

// End returns the end of the last segment.
func (s Snippet) End() float64 {
	if len(s.Segments) == 0 {
		return 0
	}
	return s.Segments[len(s.Segments)-1].End
}

// ID returns the canonical identifier of the grouping at position i.
func ID(i int) string {
	return fmt.Sprintf("snippet_%d", i+1)
}

// Options tunes a grouping run.
type Options struct {
	// SkipExisting reuses a snippet file that is already on disk.
	SkipExisting bool
}

// Grouper materializes snippets for one video directory.
type Grouper struct {
	layout artifacts.Layout
	logger *slog.Logger
}

// NewGrouper creates a grouper writing under layout.
func NewGrouper(layout artifacts.Layout, logger *slog.Logger) *Grouper {
	return &Grouper{layout: layout, logger: logger}
}

// Group resolves every grouping of res against doc, writes one file per
// snippet and the aggregate manifest, and returns the snippets in grouping
// order. Invalid indices and groupings left empty are dropped with a warning.
func (g *Grouper) Group(doc *transcript.Document, res *analysis.Result, opts Options) ([]Snippet, error) {
	out := make([]Snippet, 0, len(res.Snippets))

	for i, grouping := range res.Snippets {
		id := ID(i)
		snippetPath := g.layout.SnippetPath(id)

		if opts.SkipExisting && artifacts.FileExists(snippetPath) {
			var existing Snippet
			if err := artifacts.ReadJSON(snippetPath, &existing); err != nil {
				return nil, fmt.Errorf("load snippet %s: %w", id, err)
			}
			g.logger.Info("snippet already exists, reusing", "snippet_id", id)
			out = append(out, existing)
			continue
		}

		valid, dropped := ResolveIndices(grouping.Segments, len(doc.Segments))
		if len(dropped) > 0 {
			g.logger.Warn("dropping out of range segment indices",
				"snippet_id", id,
				"title", grouping.Title,
				"dropped", dropped,
				"segment_count", len(doc.Segments),
			)
		}
		if len(valid) == 0 {
			g.logger.Warn("dropping grouping without valid segments", "snippet_id", id, "title", grouping.Title)
			continue
		}

		snippet := Snippet{
			ID:            id,
			Title:         grouping.Title,
			Description:   grouping.Description,
			ProductType:   grouping.ProductType,
			Condition:     grouping.Condition,
			Brand:         grouping.Brand,
			Compatibility: grouping.Compatibility,
			Modifications: slices.Clone(grouping.Modifications),
			MissingParts:  slices.Clone(grouping.MissingParts),
			IntendedUse:   grouping.IntendedUse,
			Segments:      make([]transcript.Segment, 0, len(valid)),
		}
		for _, idx := range valid {
			snippet.Segments = append(snippet.Segments, copySegment(doc.Segments[idx]))
		}

		if err := artifacts.WriteJSON(snippetPath, snippet); err != nil {
			return nil, fmt.Errorf("write snippet %s: %w", id, err)
		}
		out = append(out, snippet)
	}

	if err := SaveManifest(g.layout.ManifestPath(), out); err != nil {
		return nil, err
	}
	g.logger.Info("snippets created", "count", len(out), "groupings", len(res.Snippets))
	return out, nil
}

// ResolveIndices splits indices into those inside [0, n) and those outside.
// Valid indices are deduplicated and sorted so segments stay in time order.
func ResolveIndices(indices []int, n int) (valid, dropped []int) {
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			dropped = append(dropped, idx)
			continue
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		valid = append(valid, idx)
	}
	sort.Ints(valid)
	return valid, dropped
}

// RewriteFramePath maps a frame reference, possibly carrying another video's
// directory prefix, into the current video's frames directory.
func RewriteFramePath(p *string) *string {
	if p == nil {
		return nil
	}
	clean := strings.TrimSpace(strings.ReplaceAll(*p, "\\", "/"))
	if clean == "" {
		return nil
	}
	return transcript.StringPtr(path.Join(artifacts.FramesDir, path.Base(clean)))
}

func copySegment(seg transcript.Segment) transcript.Segment {
	cp := seg
	cp.FramePath = RewriteFramePath(seg.FramePath)
	return cp
}

// SaveManifest writes the aggregate snippet list.
func SaveManifest(path string, list []Snippet) error {
	if list == nil {
		list = []Snippet{}
	}
	if err := artifacts.WriteJSON(path, list); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the aggregate snippet list.
func LoadManifest(path string) ([]Snippet, error) {
	var list []Snippet
	if err := artifacts.ReadJSON(path, &list); err != nil {
		return nil, err
	}
	return list, nil
}
