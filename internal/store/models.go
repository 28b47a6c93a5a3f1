package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
)

func toNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func fromNullInt64(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}

func dayToNull(d *int) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func dayFromNull(ns sql.NullInt64) *int {
	if !ns.Valid {
		return nil
	}
	d := int(ns.Int64)
	return &d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type profileRow struct {
	UserID          int64         `db:"user_id"`
	CreatedAt       int64         `db:"created_at"`
	TZ              string        `db:"tz"`
	AdvanceDay      sql.NullInt64 `db:"advance_day"`
	SalaryDay       sql.NullInt64 `db:"salary_day"`
	DigestAtM       int           `db:"digest_at_m"`
	DigestEnabled   int           `db:"digest_enabled"`
	MinContribution string        `db:"min_contribution"`
	MaxContribution string        `db:"max_contribution"`
	Risk            string        `db:"risk"`
}

func profileToRow(u *domain.UserSchedule) profileRow {
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	return profileRow{
		UserID:          u.UserID,
		CreatedAt:       created,
		TZ:              u.TZ,
		AdvanceDay:      dayToNull(u.AdvanceDay),
		SalaryDay:       dayToNull(u.SalaryDay),
		DigestAtM:       u.DigestAtM,
		DigestEnabled:   boolToInt(u.DigestEnabled),
		MinContribution: u.MinContribution.String(),
		MaxContribution: u.MaxContribution.String(),
		Risk:            string(u.Risk),
	}
}

func (r profileRow) toDomain() (*domain.UserSchedule, error) {
	minC, err := decimal.NewFromString(r.MinContribution)
	if err != nil {
		return nil, err
	}
	maxC, err := decimal.NewFromString(r.MaxContribution)
	if err != nil {
		return nil, err
	}
	return &domain.UserSchedule{
		UserID:          r.UserID,
		TZ:              r.TZ,
		AdvanceDay:      dayFromNull(r.AdvanceDay),
		SalaryDay:       dayFromNull(r.SalaryDay),
		DigestAtM:       r.DigestAtM,
		DigestEnabled:   r.DigestEnabled != 0,
		MinContribution: minC,
		MaxContribution: maxC,
		Risk:            domain.Risk(r.Risk),
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
	}, nil
}

type triggerRow struct {
	UserID      int64         `db:"user_id"`
	Kind        string        `db:"kind"`
	Enabled     int           `db:"enabled"`
	LastFiredAt sql.NullInt64 `db:"last_fired_at"`
	NextDueAt   int64         `db:"next_due_at"`
	RetryAt     sql.NullInt64 `db:"retry_at"`
	Attempts    int           `db:"attempts"`
}

func (r triggerRow) toDomain() domain.TriggerState {
	return domain.TriggerState{
		UserID:      r.UserID,
		Kind:        domain.EventKind(r.Kind),
		Enabled:     r.Enabled != 0,
		LastFiredAt: fromNullInt64(r.LastFiredAt),
		NextDueAt:   time.Unix(r.NextDueAt, 0).UTC(),
		RetryAt:     fromNullInt64(r.RetryAt),
		Attempts:    r.Attempts,
	}
}

type digestRow struct {
	ID          string `db:"id"`
	UserID      int64  `db:"user_id"`
	SentAt      int64  `db:"sent_at"`
	Partial     int    `db:"partial"`
	Instruments string `db:"instruments"`
}

func (r digestRow) toDomain() (domain.DigestRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.DigestRecord{}, err
	}
	var ids []string
	if r.Instruments != "" {
		ids = strings.Split(r.Instruments, ",")
	}
	return domain.DigestRecord{
		ID:          id,
		UserID:      r.UserID,
		SentAt:      time.Unix(r.SentAt, 0).UTC(),
		Partial:     r.Partial != 0,
		Instruments: ids,
	}, nil
}
