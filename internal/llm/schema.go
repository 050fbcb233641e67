package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// ValidationError reports a structured response that does not match its
// declared schema. Callers treat it like a provider failure and fall back
// one ladder level.
type ValidationError struct {
	Schema string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: field %s: %s", e.Schema, e.Field, e.Detail)
}

// parseAndValidate decodes a JSON payload and checks it against the schema.
// Providers sometimes wrap JSON in markdown fences; those are stripped first.
func parseAndValidate(schema domain.ObjectSchema, raw string) (map[string]any, error) {
	raw = stripFences(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, &ValidationError{Schema: schema.Name, Field: "", Detail: "response is not a JSON object"}
	}

	for name, fs := range schema.Fields {
		v, ok := obj[name]
		if !ok {
			if fs.Required {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: "required field missing"}
			}
			continue
		}

		switch fs.Type {
		case "string":
			s, ok := v.(string)
			if !ok {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: "expected string"}
			}
			if len(fs.Enum) > 0 && !inEnum(s, fs.Enum) {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: fmt.Sprintf("%q not in enum", s)}
			}
		case "number":
			n, ok := v.(float64)
			if !ok {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: "expected number"}
			}
			if fs.Minimum != nil && n < *fs.Minimum {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: fmt.Sprintf("%.3f below minimum %.3f", n, *fs.Minimum)}
			}
			if fs.Maximum != nil && n > *fs.Maximum {
				return nil, &ValidationError{Schema: schema.Name, Field: name, Detail: fmt.Sprintf("%.3f above maximum %.3f", n, *fs.Maximum)}
			}
		}
	}
	return obj, nil
}

func inEnum(s string, enum []string) bool {
	for _, e := range enum {
		if s == e {
			return true
		}
	}
	return false
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}

// schemaInstruction renders the schema as a prompt suffix so providers
// without native structured output still return the right shape.
func schemaInstruction(schema domain.ObjectSchema) string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object and nothing else. Fields:\n")
	for name, fs := range schema.Fields {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(" (")
		sb.WriteString(fs.Type)
		if len(fs.Enum) > 0 {
			sb.WriteString(", one of: ")
			sb.WriteString(strings.Join(fs.Enum, ", "))
		}
		if fs.Minimum != nil && fs.Maximum != nil {
			sb.WriteString(fmt.Sprintf(", between %.1f and %.1f", *fs.Minimum, *fs.Maximum))
		}
		if fs.Required {
			sb.WriteString(", required")
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}
