package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
	"github.com/ykvlv/fin-assistant-bot/internal/store"
)

// Options tunes the scheduling loop.
type Options struct {
	Interval    time.Duration // tick period
	Workers     int           // users processed concurrently
	Batch       int           // due triggers read per tick
	RetryBase   time.Duration // delay after the first failed delivery, doubled per attempt
	RetryMax    time.Duration // cap of the retry delay
	MaxAttempts int           // failed deliveries before the instant is dropped
}

// Scheduler periodically polls the DB and fires due reminders and digests.
type Scheduler struct {
	repo     Repo
	planner  *Planner
	notifier Notifier
	builder  DigestBuilder
	log      *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// New creates a scheduler sharing the planner's per-user locks.
func New(repo Repo, planner *Planner, notifier Notifier, builder DigestBuilder, log *zap.Logger, m *metrics.Metrics, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Minute
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Minute
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Scheduler{
		repo:     repo,
		planner:  planner,
		notifier: notifier,
		builder:  builder,
		log:      log,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Run starts the loop until ctx is canceled. The first tick runs immediately
// so instants missed during downtime are caught up on start.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling cycle: find due triggers, fire them per user, re-arm.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	due, err := s.repo.ListDueTriggers(ctx, now, s.opts.Batch)
	if err != nil {
		s.log.Error("ListDueTriggers failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	// Group by user, keeping due order within a user.
	var users []int64
	byUser := make(map[int64][]domain.TriggerState)
	for _, st := range due {
		if _, ok := byUser[st.UserID]; !ok {
			users = append(users, st.UserID)
		}
		byUser[st.UserID] = append(byUser[st.UserID], st)
	}

	jobs := make(chan int64)
	var wg sync.WaitGroup
	for w := 0; w < s.opts.Workers && w < len(users); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				s.fireUser(ctx, userID, byUser[userID], now)
			}
		}()
	}
	for _, id := range users {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
}

func (s *Scheduler) fireUser(ctx context.Context, userID int64, triggers []domain.TriggerState, now time.Time) {
	unlock := s.planner.locks.lock(userID)
	defer unlock()

	u, err := s.repo.LoadProfile(ctx, userID)
	if err != nil {
		s.log.Error("LoadProfile failed", zap.Error(err), zap.Int64("userID", userID))
		return
	}

	for _, listed := range triggers {
		// Re-read under the lock: a concurrent tick or re-arm may have moved it.
		st, err := s.repo.LoadTriggerState(ctx, userID, listed.Kind)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Error("LoadTriggerState failed", zap.Error(err), zap.Int64("userID", userID))
			}
			continue
		}
		if !st.Enabled || st.DueAt().After(now) {
			continue
		}
		s.fire(ctx, u, st, now)
	}
}

// fire delivers one due trigger, catching up to the most recent missed instant,
// and re-arms it. A failed delivery keeps the instant pending and backs off; it is
// dropped after MaxAttempts or once the next occurrence is closer than the retry.
func (s *Scheduler) fire(ctx context.Context, u *domain.UserSchedule, st domain.TriggerState, now time.Time) {
	log := s.log.With(zap.Int64("userID", u.UserID), zap.String("kind", string(st.Kind)))

	latest, err := domain.LatestDue(now, u, st.Kind)
	if err != nil {
		// The profile no longer configures this kind.
		log.Warn("trigger has no calendar rule, disabling", zap.Error(err))
		if err := s.repo.SetTriggerEnabled(ctx, u.UserID, st.Kind, false); err != nil {
			log.Error("SetTriggerEnabled failed", zap.Error(err))
		}
		return
	}

	due, catchUp := st.NextDueAt, false
	if latest.After(due) {
		missed, _ := domain.CountDue(due, now, u, st.Kind)
		gap := SchedulingGap{UserID: u.UserID, Kind: st.Kind, From: due, To: latest, Missed: missed}
		log.Warn("catching up after downtime", zap.Error(gap), zap.Int("missed", missed))
		s.metrics.CatchUp(string(st.Kind))
		due, catchUp = latest, true
		st.Attempts = 0
	}

	// Deliveries are not cancelled once entered.
	sendCtx := context.WithoutCancel(ctx)
	if err := s.deliver(sendCtx, u, st.Kind, due, catchUp); err != nil {
		s.failed(sendCtx, log, u, st, due, now, err)
		return
	}
	s.metrics.Fire(string(st.Kind), "ok")

	last := due
	next, err := domain.NextDue(now, u, st.Kind, &last)
	if err != nil {
		log.Error("NextDue failed", zap.Error(err))
		return
	}
	st.LastFiredAt, st.NextDueAt, st.RetryAt, st.Attempts = &last, next, nil, 0
	if err := s.repo.SaveTriggerState(sendCtx, st); err != nil {
		log.Error("SaveTriggerState failed", zap.Error(err))
		return
	}
	log.Info("fired", zap.Time("dueAt", due), zap.Time("nextDueAt", next), zap.Bool("catchUp", catchUp))
}

// failed records an unsuccessful delivery of due. LastFiredAt is left as is.
func (s *Scheduler) failed(ctx context.Context, log *zap.Logger, u *domain.UserSchedule, st domain.TriggerState, due, now time.Time, sendErr error) {
	if errors.Is(sendErr, ErrRecipientGone) {
		s.metrics.Fire(string(st.Kind), "gone")
		log.Warn("recipient unreachable, disabling trigger", zap.Error(sendErr), zap.Time("dueAt", due))
		if err := s.repo.SetTriggerEnabled(ctx, u.UserID, st.Kind, false); err != nil {
			log.Error("SetTriggerEnabled failed", zap.Error(err))
		}
		return
	}

	next, err := domain.NextDue(now, u, st.Kind, &due)
	if err != nil {
		log.Error("NextDue failed", zap.Error(err))
		return
	}
	st.Attempts++
	retry := now.Add(s.backoff(st.Attempts))
	if st.Attempts >= s.opts.MaxAttempts || !retry.Before(next) {
		s.metrics.Fire(string(st.Kind), "dropped")
		log.Error("send failed, giving up on this instant",
			zap.Error(sendErr), zap.Time("dueAt", due), zap.Int("attempts", st.Attempts), zap.Time("nextDueAt", next))
		st.NextDueAt, st.RetryAt, st.Attempts = next, nil, 0
	} else {
		s.metrics.Fire(string(st.Kind), "error")
		log.Error("send failed, will retry",
			zap.Error(sendErr), zap.Time("dueAt", due), zap.Int("attempts", st.Attempts), zap.Time("retryAt", retry))
		st.NextDueAt, st.RetryAt = due, &retry
	}
	if err := s.repo.SaveTriggerState(ctx, st); err != nil {
		log.Error("SaveTriggerState failed", zap.Error(err))
	}
}

// backoff is the delay before retry number attempts (1-based).
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.opts.RetryBase
	for i := 1; i < attempts && d < s.opts.RetryMax; i++ {
		d *= 2
	}
	if d > s.opts.RetryMax {
		d = s.opts.RetryMax
	}
	return d
}

func (s *Scheduler) deliver(ctx context.Context, u *domain.UserSchedule, kind domain.EventKind, due time.Time, catchUp bool) error {
	if kind.IsReminder() {
		return s.notifier.ReminderDue(ctx, ReminderDue{UserID: u.UserID, Kind: kind, DueAt: due, CatchUp: catchUp, Profile: u})
	}

	d := s.builder.BuildForUser(ctx, u)
	if err := s.notifier.DigestReady(ctx, DigestReady{UserID: u.UserID, Digest: d, DueAt: due, CatchUp: catchUp, Profile: u}); err != nil {
		return err
	}
	rec := domain.DigestRecord{ID: d.ID, UserID: u.UserID, SentAt: s.now().UTC(), Partial: d.Partial, Instruments: d.IDs()}
	if err := s.repo.RecordDigest(ctx, rec); err != nil {
		s.log.Warn("RecordDigest failed", zap.Error(err), zap.Int64("userID", u.UserID))
	}
	return nil
}
