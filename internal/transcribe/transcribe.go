// Package transcribe turns an audio file into a timed transcription document.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/transcript"
)

// Transcriber converts speech to a transcription document.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcript.Document, error)
}

// Options configures the OpenAI transcription client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// Language is an ISO-639-1 hint; empty lets the service detect it.
	Language string
}

// OpenAI calls the audio transcription endpoint with verbose output.
type OpenAI struct {
	client   openai.Client
	model    string
	language string
	logger   *slog.Logger
}

var _ Transcriber = (*OpenAI)(nil)

// NewOpenAI builds a transcriber. Retries are disabled: a failed call fails
// the stage and the caller decides whether to re-trigger.
func NewOpenAI(opts Options, logger *slog.Logger) *OpenAI {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		language: strings.TrimSpace(opts.Language),
		logger:   logger,
	}
}

// Transcribe uploads audioPath requesting word and segment timestamps and
// normalizes the verbose response.
func (o *OpenAI) Transcribe(ctx context.Context, audioPath string) (*transcript.Document, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTranscription, "transcription", "open audio", filepath.Base(audioPath), err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  openai.AudioModel(o.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word", "segment"},
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	o.logger.Info("calling transcription api", "model", o.model, "audio", filepath.Base(audioPath))
	start := time.Now()

	var resp VerboseResponse
	if _, err := o.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&resp)); err != nil {
		return nil, errs.Wrap(errs.ErrTranscription, "transcription", "request", "", err)
	}

	doc, err := Normalize(&resp)
	if err != nil {
		return nil, err
	}
	o.logger.Info("transcription received",
		"segments", len(doc.Segments),
		"words", len(doc.Words),
		"language", doc.Metadata.Language,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// VerboseResponse is the verbose_json body of the transcription endpoint.
type VerboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []VerboseSegment `json:"segments"`
	Words    []VerboseWord    `json:"words"`
}

type VerboseSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type VerboseWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Normalize validates resp and converts it into a transcription document.
// Responses without any text or segments, or with impossible timings, are
// rejected with errs.ErrTranscription.
func Normalize(resp *VerboseResponse) (*transcript.Document, error) {
	if resp == nil || (strings.TrimSpace(resp.Text) == "" && len(resp.Segments) == 0) {
		return nil, errs.Wrap(errs.ErrTranscription, "transcription", "decode", "empty response", nil)
	}
	if len(resp.Segments) == 0 {
		return nil, errs.Wrap(errs.ErrTranscription, "transcription", "decode", "response has no segments", nil)
	}

	doc := &transcript.Document{
		Text:     resp.Text,
		Segments: make([]transcript.Segment, 0, len(resp.Segments)),
		Words:    make([]transcript.Word, 0, len(resp.Words)),
	}

	prevStart := math.Inf(-1)
	for i, s := range resp.Segments {
		if err := checkSpan(s.Start, s.End); err != nil {
			return nil, errs.Wrap(errs.ErrTranscription, "transcription", "decode", fmt.Sprintf("segment %d", i), err)
		}
		if s.Start < prevStart {
			return nil, errs.Wrap(errs.ErrTranscription, "transcription", "decode", fmt.Sprintf("segment %d starts before segment %d", i, i-1), nil)
		}
		prevStart = s.Start
		doc.Segments = append(doc.Segments, transcript.Segment{
			Index:    i,
			Text:     s.Text,
			Start:    s.Start,
			End:      s.End,
			Duration: transcript.RoundMillis(s.End - s.Start),
		})
	}
	for i, w := range resp.Words {
		if err := checkSpan(w.Start, w.End); err != nil {
			return nil, errs.Wrap(errs.ErrTranscription, "transcription", "decode", fmt.Sprintf("word %d", i), err)
		}
		doc.Words = append(doc.Words, transcript.Word{
			Text:     w.Word,
			Start:    w.Start,
			End:      w.End,
			Duration: transcript.RoundMillis(w.End - w.Start),
		})
	}

	duration := resp.Duration
	if duration <= 0 {
		duration = doc.Segments[len(doc.Segments)-1].End
	}
	doc.Metadata = transcript.Metadata{
		Language: resp.Language,
		Duration: duration,
	}
	return doc, nil
}

func checkSpan(start, end float64) error {
	if math.IsNaN(start) || math.IsNaN(end) || start < 0 {
		return fmt.Errorf("invalid start %v", start)
	}
	if end < start {
		return fmt.Errorf("end %v before start %v", end, start)
	}
	return nil
}
