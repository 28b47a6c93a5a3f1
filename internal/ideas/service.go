package ideas

import (
	"context"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
)

// Service builds digests for user profiles.
type Service struct {
	agg      *Aggregator
	universe *Universe
	params   Params
	deadline time.Duration
}

// NewService wires an aggregator to a universe. deadline bounds every build; zero disables it.
func NewService(agg *Aggregator, universe *Universe, p Params, deadline time.Duration) *Service {
	return &Service{agg: agg, universe: universe, params: p, deadline: deadline}
}

// Params returns the aggregation parameters of the service.
func (s *Service) Params() Params { return s.params }

// BuildFor builds a digest over the universe of the given risk profile.
func (s *Service) BuildFor(ctx context.Context, risk domain.Risk) Digest {
	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}
	return s.agg.BuildDigest(ctx, s.universe.For(risk), s.params)
}

// BuildForUser builds the digest a profile owner receives.
func (s *Service) BuildForUser(ctx context.Context, u *domain.UserSchedule) Digest {
	return s.BuildFor(ctx, u.Risk)
}
