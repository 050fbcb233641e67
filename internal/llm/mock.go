package llm

import (
	"context"
	"sync"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// MockClient is a configurable structured LLM for testing.
// Set Response/Err to control what GenerateObject returns.
type MockClient struct {
	mu sync.Mutex

	Response *domain.GeneratedObject
	Err      error

	// Calls tracks invocations for assertions.
	Calls []MockCall
}

type MockCall struct {
	Schema      domain.ObjectSchema
	Messages    []domain.Message
	Temperature float64
}

func NewMockClient() *MockClient {
	return &MockClient{
		Response: &domain.GeneratedObject{
			Object: map[string]any{
				"connectionType": "related",
				"confidence":     0.8,
				"reasoning":      "mock classification",
			},
			Usage: &domain.TokenUsage{TotalTokens: 100},
		},
	}
}

func (c *MockClient) GenerateObject(ctx context.Context, schema domain.ObjectSchema, messages []domain.Message, temperature float64) (*domain.GeneratedObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, MockCall{Schema: schema, Messages: messages, Temperature: temperature})
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Response, nil
}

// CallCount returns how many times GenerateObject was invoked.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
