package llm

import (
	"fmt"
	"strings"

	"github.com/mnemoslab/mnemos/internal/domain"
)

const connectionPrompt = `You classify the relationship between two memories from the same user.

Memory 1 (created first): %s
Memory 2: %s

Classify the connection from Memory 1 to Memory 2:
- similar: both express the same idea
- related: topically related but distinct
- causes: Memory 1 describes a cause of Memory 2
- part_of: Memory 1 is a component or step of Memory 2
- opposite: the memories contradict each other`

const temporalInsightPrompt = `You analyze when a user tends to create memories.

Timestamp histogram (hour of day -> count):
%s

Describe one notable temporal pattern in the data, if any.`

const generalisePrompt = `Rewrite this episodic memory as a general, tense-free statement of knowledge. Keep it to one sentence and drop any session-specific details.

Memory: %s`

const mergePrompt = `Synthesise these near-duplicate memories into a single statement that preserves every distinct fact. Respond with one concise paragraph.

Memories:
%s`

// ConnectionSchema is the declared shape of a connection classification.
func ConnectionSchema() domain.ObjectSchema {
	zero, one := 0.0, 1.0
	return domain.ObjectSchema{
		Name: "connection_analysis",
		Fields: map[string]domain.FieldSchema{
			"connectionType": {
				Type:     "string",
				Enum:     []string{"similar", "related", "causes", "part_of", "opposite"},
				Required: true,
			},
			"confidence": {Type: "number", Minimum: &zero, Maximum: &one, Required: true},
			"reasoning":  {Type: "string"},
		},
	}
}

// TemporalInsightSchema is the declared shape of an LLM temporal insight.
func TemporalInsightSchema() domain.ObjectSchema {
	zero, one := 0.0, 1.0
	return domain.ObjectSchema{
		Name: "temporal_insight",
		Fields: map[string]domain.FieldSchema{
			"description": {Type: "string", Required: true},
			"frequency":   {Type: "string", Required: true},
			"confidence":  {Type: "number", Minimum: &zero, Maximum: &one, Required: true},
		},
	}
}

// TextSchema is the shape used for summarisation and merge synthesis.
func TextSchema() domain.ObjectSchema {
	return domain.ObjectSchema{
		Name: "text_result",
		Fields: map[string]domain.FieldSchema{
			"text": {Type: "string", Required: true},
		},
	}
}

// ConnectionMessages builds the classification prompt for a memory pair.
func ConnectionMessages(content1, content2 string) []domain.Message {
	return []domain.Message{
		{Role: "user", Content: fmt.Sprintf(connectionPrompt, content1, content2)},
	}
}

// TemporalInsightMessages builds the prompt for the temporal insight pass.
func TemporalInsightMessages(histogram string) []domain.Message {
	return []domain.Message{
		{Role: "user", Content: fmt.Sprintf(temporalInsightPrompt, histogram)},
	}
}

// GeneraliseMessages builds the episodic-to-semantic rewrite prompt.
func GeneraliseMessages(content string) []domain.Message {
	return []domain.Message{
		{Role: "user", Content: fmt.Sprintf(generalisePrompt, content)},
	}
}

// MergeMessages builds the merge synthesis prompt.
func MergeMessages(contents []string) []domain.Message {
	return []domain.Message{
		{Role: "user", Content: fmt.Sprintf(mergePrompt, "- "+strings.Join(contents, "\n- "))},
	}
}
