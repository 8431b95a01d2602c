package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/snuttify/snuttify/internal/errs"
)

// Options configures the OpenAI analyzer.
type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	// JSONObjectMode requests a plain JSON object instead of a strict schema,
	// for compatible endpoints that lack structured outputs.
	JSONObjectMode bool
}

// OpenAI analyzes transcripts with a chat completion model.
type OpenAI struct {
	client         openai.Client
	model          string
	systemPrompt   string
	jsonObjectMode bool
	logger         *slog.Logger
}

var _ Analyzer = (*OpenAI)(nil)

// NewOpenAI builds an analyzer. Retries are disabled.
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
		model = "gpt-4o"
	}
	return &OpenAI{
		client:         openai.NewClient(clientOpts...),
		model:          model,
		systemPrompt:   opts.SystemPrompt,
		jsonObjectMode: opts.JSONObjectMode,
		logger:         logger,
	}
}

// SystemMessage renders the system prompt for language.
func SystemMessage(prompt, language string) string {
	prompt = strings.TrimSpace(prompt)
	if language == "" {
		return prompt
	}
	return prompt + "\n\nWrite titles and descriptions in the language of the transcript (" + language + ")."
}

// Analyze sends the numbered transcript and the attached frames and decodes
// the structured response.
func (o *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.NumberedText) == "" {
		return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "prepare", "transcript has no segments", nil)
	}
	system := SystemMessage(o.systemPrompt, req.Language)

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.NumberedText)}
	attached := 0
	for _, img := range req.Images {
		url, err := dataURL(img.Path)
		if err != nil {
			o.logger.Warn("skipping frame", "segment", img.SegmentIndex, "path", img.Path, "error", err)
			continue
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		attached++
	}

	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(parts),
		},
		ResponseFormat: o.responseFormat(),
	}

	o.logger.Info("calling analysis api", "model", o.model, "images", attached)
	start := time.Now()

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "request", "", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "decode", "no choices in response", nil)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, errs.Wrap(errs.ErrAnalysis, "analysis", "decode", "model refused: "+msg.Refusal, nil)
	}

	res, err := Decode(msg.Content)
	if err != nil {
		return nil, err
	}
	o.logger.Info("analysis received",
		"snippets", len(res.Snippets),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if req.CallLogPath != "" {
		call := Call{System: system, User: req.NumberedText, Schema: Schema(), Response: res}
		if err := WriteCallLog(req.CallLogPath, call); err != nil {
			o.logger.Warn("failed to write llm call log", "path", req.CallLogPath, "error", err)
		}
	}
	return res, nil
}

func (o *OpenAI) responseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	if o.jsonObjectMode {
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   SchemaName,
				Strict: openai.Bool(true),
				Schema: Schema(),
			},
		},
	}
}

func dataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
