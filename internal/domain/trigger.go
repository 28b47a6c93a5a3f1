package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind identifies one of the per-user scheduled event classes.
type EventKind string

const (
	EventAdvance EventKind = "advance"
	EventSalary  EventKind = "salary"
	EventDigest  EventKind = "digest"
)

// IsReminder reports whether the kind is a pay-day reminder (as opposed to the digest).
func (k EventKind) IsReminder() bool {
	return k == EventAdvance || k == EventSalary
}

// TriggerState is the persisted scheduling state of one (user, kind) pair.
type TriggerState struct {
	UserID      int64
	Kind        EventKind
	Enabled     bool
	LastFiredAt *time.Time // UTC, nullable
	NextDueAt   time.Time  // UTC, the pending calendar instant
	RetryAt     *time.Time // UTC, set while a failed delivery of NextDueAt backs off
	Attempts    int        // failed deliveries of NextDueAt
}

// DueAt is when the trigger is next considered for firing.
func (s TriggerState) DueAt() time.Time {
	if s.RetryAt != nil {
		return *s.RetryAt
	}
	return s.NextDueAt
}

// Contribution is a single recorded deposit towards the user's plan.
type Contribution struct {
	ID        uuid.UUID
	UserID    int64
	Amount    decimal.Decimal
	Source    string // salary|advance|manual
	CreatedAt time.Time
}

// DigestRecord is the history row of a delivered digest.
type DigestRecord struct {
	ID          uuid.UUID
	UserID      int64
	SentAt      time.Time
	Partial     bool
	Instruments []string
}
