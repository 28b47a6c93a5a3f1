package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repo defines storage operations for profiles, scheduling state and history.
type Repo interface {
	UpsertProfile(ctx context.Context, u *domain.UserSchedule) error
	LoadProfile(ctx context.Context, userID int64) (*domain.UserSchedule, error)

	SaveTriggerState(ctx context.Context, st domain.TriggerState) error
	LoadTriggerState(ctx context.Context, userID int64, kind domain.EventKind) (domain.TriggerState, error)
	LoadTriggerStates(ctx context.Context, userID int64) ([]domain.TriggerState, error)
	ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.TriggerState, error)
	SetTriggerEnabled(ctx context.Context, userID int64, kind domain.EventKind, enabled bool) error

	RecordContribution(ctx context.Context, c domain.Contribution) error
	SumContributions(ctx context.Context, userID int64) (decimal.Decimal, int, error)

	RecordDigest(ctx context.Context, d domain.DigestRecord) error
	LastDigest(ctx context.Context, userID int64) (domain.DigestRecord, error)

	Close() error
}
