package embedding

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mnemoslab/mnemos/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultCacheSize = 1000
	defaultBatchSize = 32
)

// BatchEmbedder is the optional batching surface some providers expose.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service wraps an Embedder with an LRU cache and request batching.
// Provider failures surface to the caller; the caller decides whether to
// downgrade (discovery skips the candidate, recall falls back to text-only).
type Service struct {
	client domain.Embedder
	cache  *lru.Cache[string, []float32]
	batch  int
	logger *zap.Logger
}

func NewService(client domain.Embedder, cacheSize, batchSize int, logger *zap.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		client: client,
		cache:  cache,
		batch:  batchSize,
		logger: logger,
	}, nil
}

// Generate returns the embedding for text, from cache when possible.
func (s *Service) Generate(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := s.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, vec)
	return vec, nil
}

// GenerateBatch embeds many texts, serving cached entries and batching the
// misses in chunks of the configured batch size.
func (s *Service) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	for i, t := range texts {
		if vec, ok := s.cache.Get(t); ok {
			out[i] = vec
		} else {
			missIdx = append(missIdx, i)
		}
	}

	batcher, canBatch := s.client.(BatchEmbedder)
	for start := 0; start < len(missIdx); start += s.batch {
		end := start + s.batch
		if end > len(missIdx) {
			end = len(missIdx)
		}
		chunk := missIdx[start:end]

		if canBatch {
			inputs := make([]string, len(chunk))
			for j, i := range chunk {
				inputs[j] = texts[i]
			}
			vecs, err := batcher.EmbedBatch(ctx, inputs)
			if err != nil {
				return nil, err
			}
			for j, i := range chunk {
				out[i] = vecs[j]
				s.cache.Add(texts[i], vecs[j])
			}
			continue
		}

		for _, i := range chunk {
			vec, err := s.client.Embed(ctx, texts[i])
			if err != nil {
				return nil, err
			}
			out[i] = vec
			s.cache.Add(texts[i], vec)
		}
	}
	return out, nil
}

// Dimension reports the underlying provider's vector dimension.
func (s *Service) Dimension() int {
	return s.client.Dimension()
}

// CacheLen reports the current cache occupancy.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Cosine computes cosine similarity, returning 0 when either norm is 0 or
// the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
