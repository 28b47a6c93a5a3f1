package ideas

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/cache"
	"github.com/ykvlv/fin-assistant-bot/internal/market"
	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
)

// FactSource serves facts through the TTL cache; *cache.Cache satisfies it.
type FactSource interface {
	GetOrFetch(ctx context.Context, key cache.Key, ttl time.Duration) (market.Fact, error)
}

// Aggregator turns a universe into a ranked digest.
type Aggregator struct {
	facts   FactSource
	ttl     time.Duration
	workers int
	weights Weights
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator builds an aggregator reading facts with the given cache TTL.
func NewAggregator(facts FactSource, ttl time.Duration, workers int, w Weights, log *zap.Logger, m *metrics.Metrics) *Aggregator {
	if workers <= 0 {
		workers = 4
	}
	return &Aggregator{
		facts:   facts,
		ttl:     ttl,
		workers: workers,
		weights: w,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// BuildDigest collects facts for every instrument, scores, filters and ranks them.
// It never fails: facts that cannot be obtained are omitted, and when ctx expires
// the digest is built from what was collected so far and marked partial.
func (a *Aggregator) BuildDigest(ctx context.Context, universe []Instrument, p Params) Digest {
	jobs := make(chan int)
	collected := make([]map[market.FactKind]market.Fact, len(universe))
	done := make([]bool, len(universe))

	var wg sync.WaitGroup
	for w := 0; w < a.workers && w < len(universe); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				collected[i] = a.collect(ctx, universe[i])
				done[i] = true
			}
		}()
	}

feed:
	for i := range universe {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	now := a.now().UTC()
	d := Digest{ID: uuid.New(), BuiltAt: now, Partial: ctx.Err() != nil}
	cands := make([]*Candidate, 0, len(universe))
	for i, in := range universe {
		if !done[i] {
			continue
		}
		d.Considered++
		c := newCandidate(in, collected[i], now)
		c.Score = Score(c, now, p.MaxAge(), a.weights)
		cands = append(cands, c)
	}
	d.Ideas = rank(cands, p)

	a.metrics.Digest(len(d.Ideas), d.Partial)
	a.log.Info("digest built",
		zap.String("digestID", d.ID.String()),
		zap.Int("universe", len(universe)),
		zap.Int("considered", d.Considered),
		zap.Int("ideas", len(d.Ideas)),
		zap.Bool("partial", d.Partial),
	)
	return d
}

func (a *Aggregator) collect(ctx context.Context, in Instrument) map[market.FactKind]market.Fact {
	facts := make(map[market.FactKind]market.Fact)
	for _, kind := range in.RequiredKinds() {
		if ctx.Err() != nil {
			break
		}
		f, err := a.facts.GetOrFetch(ctx, cache.KeyFor(in.subject(kind), kind), a.ttl)
		if err != nil {
			a.log.Debug("fact omitted",
				zap.String("instrument", in.ID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}
		facts[kind] = f
	}
	return facts
}
