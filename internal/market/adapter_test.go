package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name   string
	calls  atomic.Int32
	fetch  func(ctx context.Context, instrument string, kind FactKind) (Fact, error)
	covers func(instrument string) bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, instrument string, kind FactKind) (Fact, error) {
	p.calls.Add(1)
	return p.fetch(ctx, instrument, kind)
}

type coveringProvider struct{ *fakeProvider }

func (p coveringProvider) Covers(instrument string) bool { return p.covers(instrument) }

var observed = time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)

func okFetch(price float64) func(context.Context, string, FactKind) (Fact, error) {
	return func(context.Context, string, FactKind) (Fact, error) {
		return Fact{Value: price, Attrs: map[string]float64{AttrPrice: price}, ObservedAt: observed}, nil
	}
}

func failFetch(kind ErrorKind) func(context.Context, string, FactKind) (Fact, error) {
	return func(context.Context, string, FactKind) (Fact, error) {
		return Fact{}, NewError("upstream", kind, errors.New("boom"))
	}
}

func newTestAdapter(timeout time.Duration) *Adapter {
	a := NewAdapter(timeout, zap.NewNop(), nil)
	a.now = func() time.Time { return observed.Add(time.Hour) }
	return a
}

func TestAdapter_FallsThroughOnFailure(t *testing.T) {
	a := newTestAdapter(time.Second)
	primary := &fakeProvider{name: "primary", fetch: failFetch(Unavailable)}
	backup := &fakeProvider{name: "backup", fetch: okFetch(101.5)}
	a.Register(primary, Guard{}, KindQuote)
	a.Register(backup, Guard{}, KindQuote)

	f, err := a.Fetch(context.Background(), "SBER", KindQuote)
	require.NoError(t, err)
	assert.Equal(t, "backup", f.Source)
	assert.Equal(t, "SBER", f.Instrument)
	assert.Equal(t, KindQuote, f.Kind)
	assert.Equal(t, 101.5, f.Value)
	assert.Equal(t, []string{"primary", "backup"}, a.Chain(KindQuote))
	assert.EqualValues(t, 1, primary.calls.Load())
}

func TestAdapter_NotFoundShortCircuits(t *testing.T) {
	a := newTestAdapter(time.Second)
	primary := &fakeProvider{name: "primary", fetch: failFetch(NotFound)}
	backup := &fakeProvider{name: "backup", fetch: okFetch(1)}
	a.Register(primary, Guard{}, KindQuote)
	a.Register(backup, Guard{}, KindQuote)

	_, err := a.Fetch(context.Background(), "NOPE", KindQuote)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, errors.Is(err, ErrNoProviderAvailable))
	assert.EqualValues(t, 0, backup.calls.Load())
}

func TestAdapter_AllFail(t *testing.T) {
	a := newTestAdapter(time.Second)
	a.Register(&fakeProvider{name: "a", fetch: failFetch(Unavailable)}, Guard{}, KindQuote)
	a.Register(&fakeProvider{name: "b", fetch: failFetch(RateLimited)}, Guard{}, KindQuote)

	_, err := a.Fetch(context.Background(), "SBER", KindQuote)
	require.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.Equal(t, RateLimited, KindOf(err))
}

func TestAdapter_EmptyChain(t *testing.T) {
	a := newTestAdapter(time.Second)
	_, err := a.Fetch(context.Background(), "SBER", KindNews)
	require.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestAdapter_TimeoutBoundsSlowProvider(t *testing.T) {
	a := newTestAdapter(50 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	slow := &fakeProvider{name: "slow", fetch: func(ctx context.Context, _ string, _ FactKind) (Fact, error) {
		<-release
		return Fact{}, ctx.Err()
	}}
	fast := &fakeProvider{name: "fast", fetch: okFetch(42)}
	a.Register(slow, Guard{}, KindQuote)
	a.Register(fast, Guard{}, KindQuote)

	start := time.Now()
	f, err := a.Fetch(context.Background(), "GAZP", KindQuote)
	require.NoError(t, err)
	assert.Equal(t, "fast", f.Source)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAdapter_TimeoutKind(t *testing.T) {
	a := newTestAdapter(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	a.Register(&fakeProvider{name: "slow", fetch: func(context.Context, string, FactKind) (Fact, error) {
		<-release
		return Fact{}, nil
	}}, Guard{}, KindQuote)

	_, err := a.Fetch(context.Background(), "GAZP", KindQuote)
	require.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.Equal(t, Timeout, KindOf(err))
}

func TestAdapter_OpenBreakerFallsThrough(t *testing.T) {
	a := newTestAdapter(time.Second)
	flaky := &fakeProvider{name: "flaky", fetch: failFetch(Unavailable)}
	backup := &fakeProvider{name: "backup", fetch: okFetch(7)}
	a.Register(flaky, Guard{TripAfter: 2, OpenFor: time.Hour}, KindQuote)
	a.Register(backup, Guard{}, KindQuote)

	for i := 0; i < 4; i++ {
		_, err := a.Fetch(context.Background(), "LKOH", KindQuote)
		require.NoError(t, err)
	}
	// breaker opened after two failures
	assert.EqualValues(t, 2, flaky.calls.Load())
	assert.EqualValues(t, 4, backup.calls.Load())
}

func TestAdapter_NotFoundDoesNotTripBreaker(t *testing.T) {
	a := newTestAdapter(time.Second)
	p := &fakeProvider{name: "p", fetch: failFetch(NotFound)}
	a.Register(p, Guard{TripAfter: 1, OpenFor: time.Hour}, KindQuote)

	for i := 0; i < 3; i++ {
		_, err := a.Fetch(context.Background(), "X", KindQuote)
		require.True(t, IsNotFound(err))
	}
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestAdapter_RateLimited(t *testing.T) {
	a := newTestAdapter(time.Second)
	p := &fakeProvider{name: "p", fetch: okFetch(1)}
	a.Register(p, Guard{RPS: 0.001, Burst: 1}, KindQuote)

	_, err := a.Fetch(context.Background(), "X", KindQuote)
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), "X", KindQuote)
	require.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.Equal(t, RateLimited, KindOf(err))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestAdapter_SkipsUncoveredInstrument(t *testing.T) {
	a := newTestAdapter(time.Second)
	moex := coveringProvider{&fakeProvider{
		name:   "moex",
		fetch:  failFetch(NotFound),
		covers: func(id string) bool { return id != "BTC" },
	}}
	coins := &fakeProvider{name: "coins", fetch: okFetch(60000)}
	a.Register(moex, Guard{}, KindQuote)
	a.Register(coins, Guard{}, KindQuote)

	f, err := a.Fetch(context.Background(), "BTC", KindQuote)
	require.NoError(t, err)
	assert.Equal(t, "coins", f.Source)
	assert.EqualValues(t, 0, moex.calls.Load())
}

func TestAdapter_Normalize(t *testing.T) {
	a := newTestAdapter(time.Second)
	a.Register(&fakeProvider{name: "undated", fetch: func(context.Context, string, FactKind) (Fact, error) {
		return Fact{Value: 1}, nil
	}}, Guard{}, KindQuote)
	a.Register(&fakeProvider{name: "future", fetch: func(context.Context, string, FactKind) (Fact, error) {
		return Fact{Value: 2, Source: "spoofed", ObservedAt: observed.Add(48 * time.Hour)}, nil
	}}, Guard{}, KindQuote)

	f, err := a.Fetch(context.Background(), "X", KindQuote)
	require.NoError(t, err)
	assert.Equal(t, "future", f.Source)
	assert.Equal(t, a.now().UTC(), f.ObservedAt)
}
