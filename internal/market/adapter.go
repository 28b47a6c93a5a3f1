package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
)

// Guard configures the local protection wrapped around one provider.
type Guard struct {
	RPS       float64       // sustained calls per second; <=0 disables limiting
	Burst     int           // burst capacity
	TripAfter uint32        // consecutive failures that open the breaker
	OpenFor   time.Duration // how long an open breaker rejects calls
}

// DefaultGuard is used when a provider is registered with a zero Guard.
func DefaultGuard() Guard {
	return Guard{RPS: 5, Burst: 5, TripAfter: 5, OpenFor: time.Minute}
}

type guarded struct {
	p       Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Adapter exposes one Fetch over ordered provider chains, one chain per fact kind.
type Adapter struct {
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	guards map[string]*guarded
	chains map[FactKind][]*guarded
}

// NewAdapter creates an adapter whose provider calls are bounded by timeout.
func NewAdapter(timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		timeout: timeout,
		log:     log,
		metrics: m,
		now:     time.Now,
		guards:  make(map[string]*guarded),
		chains:  make(map[FactKind][]*guarded),
	}
}

// Register appends p to the chain of every given kind. Registration order is fallback order.
// A provider registered several times shares one breaker and one rate limiter.
func (a *Adapter) Register(p Provider, g Guard, kinds ...FactKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	gp, ok := a.guards[p.Name()]
	if !ok {
		if g == (Guard{}) {
			g = DefaultGuard()
		}
		gp = &guarded{p: p, breaker: newBreaker(p.Name(), g, a.log)}
		if g.RPS > 0 {
			burst := g.Burst
			if burst <= 0 {
				burst = 1
			}
			gp.limiter = rate.NewLimiter(rate.Limit(g.RPS), burst)
		}
		a.guards[p.Name()] = gp
	}
	for _, k := range kinds {
		a.chains[k] = append(a.chains[k], gp)
	}
}

func newBreaker(name string, g Guard, log *zap.Logger) *gobreaker.CircuitBreaker {
	trip := g.TripAfter
	if trip == 0 {
		trip = DefaultGuard().TripAfter
	}
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = g.OpenFor
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= trip
	}
	// NotFound is an answer, not a provider fault.
	st.IsSuccessful = func(err error) bool {
		return err == nil || IsNotFound(err)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("provider breaker state changed",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Chain returns provider names of the chain for kind, in fallback order.
func (a *Adapter) Chain(kind FactKind) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.chains[kind]))
	for _, g := range a.chains[kind] {
		names = append(names, g.p.Name())
	}
	return names
}

// Fetch walks the chain for kind until one provider returns a fact.
// NotFound is authoritative and ends the walk. When every provider fails the
// error wraps ErrNoProviderAvailable; nothing is retried within the call.
func (a *Adapter) Fetch(ctx context.Context, instrument string, kind FactKind) (Fact, error) {
	a.mu.RLock()
	chain := make([]*guarded, len(a.chains[kind]))
	copy(chain, a.chains[kind])
	a.mu.RUnlock()

	var lastErr error
	for _, g := range chain {
		if c, ok := g.p.(Coverer); ok && !c.Covers(instrument) {
			continue
		}
		f, err := a.call(ctx, g, instrument, kind)
		if err == nil {
			return f, nil
		}
		if IsNotFound(err) {
			return Fact{}, err
		}
		lastErr = err
		a.log.Debug("provider failed, trying next",
			zap.String("provider", g.p.Name()),
			zap.String("instrument", instrument),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no provider covers the instrument")
	}
	return Fact{}, fmt.Errorf("%w: %s %s: %w", ErrNoProviderAvailable, kind, instrument, lastErr)
}

func (a *Adapter) call(ctx context.Context, g *guarded, instrument string, kind FactKind) (Fact, error) {
	name := g.p.Name()
	start := time.Now()

	if g.limiter != nil && !g.limiter.Allow() {
		err := NewError(name, RateLimited, errors.New("local request budget exhausted"))
		a.metrics.ProviderCall(name, string(kind), RateLimited.String(), 0)
		return Fact{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		f   Fact
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := g.breaker.Execute(func() (interface{}, error) {
			return g.p.Fetch(callCtx, instrument, kind)
		})
		f, _ := v.(Fact)
		ch <- result{f: f, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-callCtx.Done():
		res.err = NewError(name, Timeout, callCtx.Err())
	}

	f, err := res.f, classify(callCtx, name, res.err)
	if err == nil {
		f, err = a.normalize(name, instrument, kind, f)
	}

	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	a.metrics.ProviderCall(name, string(kind), outcome, time.Since(start))
	return f, err
}

func classify(callCtx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewError(name, Unavailable, err)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
		return NewError(name, Timeout, err)
	}
	return NewError(name, Unavailable, err)
}

func (a *Adapter) normalize(name, instrument string, kind FactKind, f Fact) (Fact, error) {
	if f.ObservedAt.IsZero() {
		return Fact{}, NewError(name, Malformed, errors.New("missing observation time"))
	}
	if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
		return Fact{}, NewError(name, Malformed, errors.New("non-finite value"))
	}
	for k, v := range f.Attrs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(f.Attrs, k)
		}
	}
	now := a.now().UTC()
	f.ObservedAt = f.ObservedAt.UTC()
	if f.ObservedAt.After(now) {
		f.ObservedAt = now
	}
	f.Instrument = instrument
	f.Kind = kind
	f.Source = name
	return f, nil
}
