package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

// ErrMiss is returned by a Store when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Key identifies one cached fact.
type Key struct {
	Instrument string
	Kind       market.FactKind
}

// KeyFor builds the key of a fact. Global kinds share one entry across instruments.
func KeyFor(instrument string, kind market.FactKind) Key {
	if kind.Global() {
		instrument = "*"
	}
	return Key{Instrument: instrument, Kind: kind}
}

func (k Key) String() string { return string(k.Kind) + ":" + k.Instrument }

// Entry is a stored fact with the instant it was fetched.
type Entry struct {
	Fact      market.Fact
	FetchedAt time.Time
}

// Store persists cache entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	Set(ctx context.Context, key Key, e Entry) error
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}
