package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

func TestRedisStore_GetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, "", time.Hour)

	mock.ExpectGet("finbot:fact:quote:SBER").RedisNil()
	_, err := s.Get(context.Background(), KeyFor("SBER", market.KindQuote))
	assert.ErrorIs(t, err, ErrMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_SetAndGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, "test:", 24*time.Hour)
	key := KeyFor("SBER", market.KindMacro)
	e := Entry{
		Fact: market.Fact{
			Instrument: "*",
			Kind:       market.KindMacro,
			Value:      21,
			Attrs:      map[string]float64{market.AttrKeyRate: 21},
			Source:     "moex",
			ObservedAt: time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC),
		},
		FetchedAt: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectSet("test:macro:*", raw, 24*time.Hour).SetVal("OK")
	require.NoError(t, s.Set(context.Background(), key, e))

	mock.ExpectGet("test:macro:*").SetVal(string(raw))
	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, e.Fact.Value, got.Fact.Value)
	assert.True(t, e.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, 21.0, got.Fact.Attrs[market.AttrKeyRate])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, "", 0)

	mock.ExpectGet("finbot:fact:quote:GAZP").SetErr(errors.New("connection refused"))
	_, err := s.Get(context.Background(), KeyFor("GAZP", market.KindQuote))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMiss))
	assert.NotErrorIs(t, err, redis.Nil)
}

func TestCache_RedisReadFailureFallsBackToFetch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	f := &countingFetcher{fn: func(int32) (market.Fact, error) { return priceFact(5), nil }}
	c, clk := newTestCache(f)
	c.store = NewRedisStore(client, "", 0)

	want := priceFact(5)
	want.Instrument, want.Kind = "SBER", market.KindQuote
	raw, err := json.Marshal(Entry{Fact: want, FetchedAt: clk.now()})
	require.NoError(t, err)

	mock.ExpectGet("finbot:fact:quote:SBER").SetErr(errors.New("i/o timeout"))
	mock.ExpectGet("finbot:fact:quote:SBER").SetErr(errors.New("i/o timeout"))
	mock.ExpectSet("finbot:fact:quote:SBER", raw, 0).SetVal("OK")

	got, err := c.GetOrFetch(context.Background(), KeyFor("SBER", market.KindQuote), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Value)
	assert.EqualValues(t, 1, f.calls.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}
