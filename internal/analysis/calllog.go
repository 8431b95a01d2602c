package analysis

import (
	"encoding/json"
	"strings"

	"github.com/snuttify/snuttify/internal/artifacts"
)

// Call is the record of one analysis request and its decoded response.
type Call struct {
	System   string
	User     string
	Schema   map[string]any
	Response *Result
}

// Markdown renders the call for humans.
func (c Call) Markdown() (string, error) {
	schema, err := json.MarshalIndent(c.Schema, "", "  ")
	if err != nil {
		return "", err
	}
	response, err := json.MarshalIndent(c.Response, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# LLM Call Details\n\n")
	b.WriteString("## System Prompt\n```\n" + c.System + "\n```\n\n")
	b.WriteString("## User Prompt\n```\n" + strings.TrimRight(c.User, "\n") + "\n```\n\n")
	b.WriteString("## Response Schema\n```json\n" + string(schema) + "\n```\n\n")
	b.WriteString("## Response\n```json\n" + string(response) + "\n```\n")
	return b.String(), nil
}

// WriteCallLog stores the markdown record at path.
func WriteCallLog(path string, c Call) error {
	md, err := c.Markdown()
	if err != nil {
		return err
	}
	return artifacts.WriteFile(path, []byte(md))
}
