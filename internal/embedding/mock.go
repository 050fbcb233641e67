package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimension = 64

// MockClient is a deterministic embedding client for tests and local runs.
// Vectors are derived from token hashes so similar texts get similar
// vectors without any network calls.
type MockClient struct {
	// FixedVector, when set, is returned for every input.
	FixedVector []float32
	// Err, when set, is returned from every call.
	Err error

	// EmbedCalls tracks inputs for assertions.
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.Err != nil {
		return nil, c.Err
	}
	if c.FixedVector != nil {
		return c.FixedVector, nil
	}
	return hashVector(text), nil
}

func (c *MockClient) Dimension() int {
	if c.FixedVector != nil {
		return len(c.FixedVector)
	}
	return mockDimension
}

// hashVector buckets character trigrams into a fixed-size vector and
// normalises it, so overlapping texts produce high cosine similarity.
func hashVector(text string) []float32 {
	vec := make([]float32, mockDimension)
	for i := 0; i+3 <= len(text); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(text[i : i+3]))
		vec[h.Sum32()%mockDimension]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
