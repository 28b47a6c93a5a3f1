package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

type countingFetcher struct {
	calls atomic.Int32
	fn    func(call int32) (market.Fact, error)
}

func (f *countingFetcher) Fetch(_ context.Context, instrument string, kind market.FactKind) (market.Fact, error) {
	n := f.calls.Add(1)
	fact, err := f.fn(n)
	fact.Instrument, fact.Kind = instrument, kind
	return fact, err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(f Fetcher) (*Cache, *clock) {
	clk := &clock{t: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)}
	c := New(nil, f, zap.NewNop(), nil)
	c.now = clk.now
	return c, clk
}

func priceFact(v float64) market.Fact {
	return market.Fact{Value: v, Source: "moex", ObservedAt: time.Date(2025, 6, 20, 11, 0, 0, 0, time.UTC)}
}

func TestGetOrFetch_HitMakesNoCalls(t *testing.T) {
	f := &countingFetcher{fn: func(int32) (market.Fact, error) { return priceFact(100), nil }}
	c, clk := newTestCache(f)
	key := KeyFor("SBER", market.KindQuote)

	_, err := c.GetOrFetch(context.Background(), key, 10*time.Minute)
	require.NoError(t, err)
	clk.advance(10 * time.Minute)
	got, err := c.GetOrFetch(context.Background(), key, 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 100.0, got.Value)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestGetOrFetch_ExpiredEntryRefetched(t *testing.T) {
	f := &countingFetcher{fn: func(n int32) (market.Fact, error) { return priceFact(float64(n)), nil }}
	c, clk := newTestCache(f)
	key := KeyFor("SBER", market.KindQuote)

	_, err := c.GetOrFetch(context.Background(), key, time.Minute)
	require.NoError(t, err)
	clk.advance(time.Minute + time.Second)
	got, err := c.GetOrFetch(context.Background(), key, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2.0, got.Value)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestGetOrFetch_StampedeSharesOneCall(t *testing.T) {
	release := make(chan struct{})
	f := &countingFetcher{fn: func(int32) (market.Fact, error) {
		<-release
		return priceFact(250), nil
	}}
	c, _ := newTestCache(f)
	key := KeyFor("GAZP", market.KindQuote)

	const callers = 64
	var wg sync.WaitGroup
	results := make([]float64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fact, err := c.GetOrFetch(context.Background(), key, time.Hour)
			results[i], errs[i] = fact.Value, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, f.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 250.0, results[i])
	}
}

func TestGetOrFetch_FailureKeepsStaleEntry(t *testing.T) {
	upstream := errors.New("upstream down")
	f := &countingFetcher{fn: func(n int32) (market.Fact, error) {
		if n == 1 {
			return priceFact(10), nil
		}
		return market.Fact{}, upstream
	}}
	c, clk := newTestCache(f)
	key := KeyFor("LKOH", market.KindQuote)

	_, err := c.GetOrFetch(context.Background(), key, time.Minute)
	require.NoError(t, err)
	before, err := c.store.Get(context.Background(), key)
	require.NoError(t, err)

	clk.advance(5 * time.Minute)
	got, err := c.GetOrFetch(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Value)

	after, err := c.store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, before.FetchedAt, after.FetchedAt, "failed refresh must not extend the entry")

	// still expired, so the next call goes upstream again
	_, err = c.GetOrFetch(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestGetOrFetch_FailureWithoutEntry(t *testing.T) {
	upstream := market.NewError("moex", market.Unavailable, errors.New("502"))
	f := &countingFetcher{fn: func(int32) (market.Fact, error) { return market.Fact{}, upstream }}
	c, _ := newTestCache(f)
	key := KeyFor("YNDX", market.KindQuote)

	_, err := c.GetOrFetch(context.Background(), key, time.Minute)
	require.Error(t, err)
	assert.Equal(t, market.Unavailable, market.KindOf(err))

	_, err = c.store.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetOrFetch_CallerCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := &countingFetcher{fn: func(int32) (market.Fact, error) {
		<-release
		return priceFact(1), nil
	}}
	c, _ := newTestCache(f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, KeyFor("X", market.KindQuote), time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyFor_GlobalKindsShareEntry(t *testing.T) {
	assert.Equal(t, KeyFor("SBER", market.KindMacro), KeyFor("GAZP", market.KindMacro))
	assert.NotEqual(t, KeyFor("SBER", market.KindQuote), KeyFor("GAZP", market.KindQuote))
	assert.Equal(t, "macro:*", KeyFor("SBER", market.KindMacro).String())
}
