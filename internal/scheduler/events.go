package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
)

// ReminderDue asks the user to record a pay-day contribution.
type ReminderDue struct {
	UserID  int64
	Kind    domain.EventKind
	DueAt   time.Time
	CatchUp bool // fired late, after downtime
	Profile *domain.UserSchedule
}

// DigestReady delivers a built digest.
type DigestReady struct {
	UserID  int64
	Digest  ideas.Digest
	DueAt   time.Time
	CatchUp bool
	Profile *domain.UserSchedule
}

// ErrRecipientGone is wrapped by a Notifier when the user can no longer be reached,
// e.g. the bot was blocked. The trigger is disabled instead of retried.
var ErrRecipientGone = errors.New("recipient unreachable")

// Notifier delivers scheduler events to the user. telegram.Router implements it.
type Notifier interface {
	ReminderDue(ctx context.Context, ev ReminderDue) error
	DigestReady(ctx context.Context, ev DigestReady) error
}

// DigestBuilder builds the digest for a profile. *ideas.Service implements it.
type DigestBuilder interface {
	BuildForUser(ctx context.Context, u *domain.UserSchedule) ideas.Digest
}

// SchedulingGap describes due instants missed while the process was down.
type SchedulingGap struct {
	UserID int64
	Kind   domain.EventKind
	From   time.Time // oldest missed instant
	To     time.Time // most recent missed instant, the one fired
	Missed int
}

func (g SchedulingGap) Error() string {
	return fmt.Sprintf("scheduling gap: user %d %s missed %d instants between %s and %s",
		g.UserID, g.Kind, g.Missed, g.From.Format(time.RFC3339), g.To.Format(time.RFC3339))
}
