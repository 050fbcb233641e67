package service

import (
	"context"
	"sync"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultDecayInterval = time.Hour
	defaultDecayRate     = 0.1
	defaultRemovalFloor  = 0.1
	decayRunTimeout      = time.Minute
)

// DecayService fades working and episodic memories over time by lowering
// their resonance through the gateway's decay capability. Gateways without
// the capability report zeroed results instead of failing.
type DecayService struct {
	gateway  domain.StorageGateway
	interval time.Duration
	opts     domain.DecayOpts
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDecayService(gateway domain.StorageGateway, interval time.Duration, logger *zap.Logger) *DecayService {
	if interval <= 0 {
		interval = defaultDecayInterval
	}
	return &DecayService{
		gateway:  gateway,
		interval: interval,
		opts:     domain.DecayOpts{DecayRate: defaultDecayRate, RemovalThreshold: defaultRemovalFloor},
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Apply runs one decay pass for a single tenant.
func (s *DecayService) Apply(ctx context.Context, userID, agentID string) (*domain.DecayResult, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if agentID == "" {
		return nil, ErrInvalidAgent
	}
	applier, ok := s.gateway.(domain.DecayApplier)
	if !ok {
		return &domain.DecayResult{}, nil
	}
	return applier.ApplyDecay(ctx, userID, agentID, s.opts)
}

// Start launches the periodic sweep. Without both the decay and tenant
// listing capabilities the worker does not run.
func (s *DecayService) Start() {
	if _, ok := s.gateway.(domain.DecayApplier); !ok {
		s.logger.Info("decay: gateway has no decay capability, sweep disabled")
		return
	}
	lister, ok := s.gateway.(domain.UserLister)
	if !ok {
		s.logger.Info("decay: gateway cannot list tenants, sweep disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(lister)
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *DecayService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *DecayService) sweep(lister domain.UserLister) {
	ctx, cancel := context.WithTimeout(context.Background(), decayRunTimeout)
	defer cancel()

	tenants, err := lister.ListUserAgents(ctx)
	if err != nil {
		s.logger.Warn("decay: tenant listing failed", zap.Error(err))
		return
	}
	for _, t := range tenants {
		result, err := s.Apply(ctx, t.UserID, t.AgentID)
		if err != nil {
			s.logger.Warn("decay: pass failed",
				zap.String("user", domain.TruncateID(t.UserID)),
				zap.Error(err))
			continue
		}
		if result.Removed > 0 {
			s.logger.Info("decay: removed faded memories",
				zap.String("user", domain.TruncateID(t.UserID)),
				zap.Int("removed", result.Removed))
		}
	}
}
