package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/store"
)

// Repo is the part of store.Repo the scheduler uses.
type Repo interface {
	LoadProfile(ctx context.Context, userID int64) (*domain.UserSchedule, error)
	SaveTriggerState(ctx context.Context, st domain.TriggerState) error
	LoadTriggerState(ctx context.Context, userID int64, kind domain.EventKind) (domain.TriggerState, error)
	ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.TriggerState, error)
	SetTriggerEnabled(ctx context.Context, userID int64, kind domain.EventKind, enabled bool) error
	RecordDigest(ctx context.Context, d domain.DigestRecord) error
}

// userLocks serializes work on one user's triggers.
type userLocks struct {
	m sync.Map // int64 -> *sync.Mutex
}

func (l *userLocks) lock(userID int64) func() {
	v, _ := l.m.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Planner arms and disarms trigger states. It shares per-user locks with the Scheduler.
type Planner struct {
	repo  Repo
	log   *zap.Logger
	locks *userLocks
	now   func() time.Time
}

func NewPlanner(repo Repo, log *zap.Logger) *Planner {
	return &Planner{repo: repo, log: log, locks: &userLocks{}, now: time.Now}
}

// allKinds is the fixed set of per-user event kinds.
var allKinds = []domain.EventKind{domain.EventAdvance, domain.EventSalary, domain.EventDigest}

// Arm (re)computes every trigger of a finalized profile. Configured kinds are enabled with a
// fresh next_due_at; kinds no longer configured, and a paused digest, are disabled.
// The last fire instant is kept so an occurrence that already fired is not repeated,
// and an instant that is due but not delivered yet stays pending while the rule still yields it.
func (p *Planner) Arm(ctx context.Context, u *domain.UserSchedule) error {
	if err := u.Validate(); err != nil {
		return err
	}
	unlock := p.locks.lock(u.UserID)
	defer unlock()

	now := p.now().UTC()
	configured := make(map[domain.EventKind]bool)
	for _, k := range u.Kinds() {
		configured[k] = k != domain.EventDigest || u.DigestEnabled
	}

	for _, kind := range allKinds {
		prev, err := p.repo.LoadTriggerState(ctx, u.UserID, kind)
		exists := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load %s trigger: %w", kind, err)
		}

		if !configured[kind] {
			if exists && prev.Enabled {
				if err := p.repo.SetTriggerEnabled(ctx, u.UserID, kind, false); err != nil {
					return fmt.Errorf("disarm %s: %w", kind, err)
				}
			}
			continue
		}

		if exists && p.pending(u, prev, now) {
			p.log.Debug("trigger kept pending",
				zap.Int64("userID", u.UserID),
				zap.String("kind", string(kind)),
				zap.Time("nextDueAt", prev.NextDueAt),
			)
			continue
		}

		var last *time.Time
		if exists {
			last = prev.LastFiredAt
		}
		next, err := domain.NextDue(now, u, kind, last)
		if err != nil {
			return err
		}
		st := domain.TriggerState{UserID: u.UserID, Kind: kind, Enabled: true, LastFiredAt: last, NextDueAt: next}
		if err := p.repo.SaveTriggerState(ctx, st); err != nil {
			return fmt.Errorf("arm %s: %w", kind, err)
		}
		p.log.Debug("trigger armed",
			zap.Int64("userID", u.UserID),
			zap.String("kind", string(kind)),
			zap.Time("nextDueAt", next),
		)
	}
	return nil
}

// pending reports whether prev is an enabled trigger whose due instant has passed
// without delivery and is still an occurrence of the profile's rule.
func (p *Planner) pending(u *domain.UserSchedule, prev domain.TriggerState, now time.Time) bool {
	if !prev.Enabled || prev.NextDueAt.After(now) {
		return false
	}
	at, err := domain.LatestDue(prev.NextDueAt, u, prev.Kind)
	return err == nil && at.Equal(prev.NextDueAt)
}
