package llm

import (
	"context"
	"errors"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated
// provider failures. Callers treat it like any other provider error and
// fall back down the ladder.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

const (
	breakerMaxFailures = 3
	breakerTimeout     = 30 * time.Second
	breakerHalfOpenMax = 2
)

// Breaker wraps a StructuredLLM with a circuit breaker so a failing
// provider cannot stall every discovery task in the worker pool.
type Breaker struct {
	inner   domain.StructuredLLM
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreaker(inner domain.StructuredLLM, logger *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        "structured-llm",
		MaxRequests: breakerHalfOpenMax,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (b *Breaker) GenerateObject(ctx context.Context, schema domain.ObjectSchema, messages []domain.Message, temperature float64) (*domain.GeneratedObject, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.inner.GenerateObject(ctx, schema, messages, temperature)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return out.(*domain.GeneratedObject), nil
}
