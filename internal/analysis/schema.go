package analysis

// SchemaName identifies the response schema sent to the model.
const SchemaName = "snippets_response"

func nullableString(description string) map[string]any {
	return map[string]any{
		"type":        []string{"string", "null"},
		"description": description,
	}
}

func stringList(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

// Schema returns the strict JSON schema of Result.
func Schema() map[string]any {
	snippet := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Concise title naming the product or product group",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Detailed description of the product, its condition and context",
			},
			"segments": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "Indices of the segments that belong to this snippet",
			},
			"product_type":  nullableString("Product category, e.g. tools, bicycle parts, electronics"),
			"condition":     nullableString("Condition, e.g. as new, used, defective, project"),
			"brand":         nullableString("Brand if mentioned or visible"),
			"compatibility": nullableString("Compatibility or fit information"),
			"modifications": stringList("Modifications or repairs that have been made"),
			"missing_parts": stringList("Parts that are missing or need attention"),
			"intended_use":  nullableString("Intended use or installation"),
		},
		"required": []string{
			"title", "description", "segments",
			"product_type", "condition", "brand", "compatibility",
			"modifications", "missing_parts", "intended_use",
		},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"snippets": map[string]any{
				"type":        "array",
				"items":       snippet,
				"description": "Snippets generated from the video content",
			},
		},
		"required":             []string{"snippets"},
		"additionalProperties": false,
	}
}
