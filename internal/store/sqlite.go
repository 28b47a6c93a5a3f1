package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sqlx.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
// The path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// UpsertProfile inserts or updates a user's profile.
func (r *SQLiteRepo) UpsertProfile(ctx context.Context, u *domain.UserSchedule) error {
	if u == nil {
		return errors.New("nil profile")
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO profiles (
			user_id, created_at, tz, advance_day, salary_day,
			digest_at_m, digest_enabled, min_contribution, max_contribution, risk
		) VALUES (
			:user_id, :created_at, :tz, :advance_day, :salary_day,
			:digest_at_m, :digest_enabled, :min_contribution, :max_contribution, :risk
		)
		ON CONFLICT(user_id) DO UPDATE SET
			tz               = excluded.tz,
			advance_day      = excluded.advance_day,
			salary_day       = excluded.salary_day,
			digest_at_m      = excluded.digest_at_m,
			digest_enabled   = excluded.digest_enabled,
			min_contribution = excluded.min_contribution,
			max_contribution = excluded.max_contribution,
			risk             = excluded.risk`,
		profileToRow(u),
	)
	return err
}

// LoadProfile returns a user's profile or ErrNotFound.
func (r *SQLiteRepo) LoadProfile(ctx context.Context, userID int64) (*domain.UserSchedule, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, created_at, tz, advance_day, salary_day,
		       digest_at_m, digest_enabled, min_contribution, max_contribution, risk
		FROM profiles
		WHERE user_id = ?`,
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// SaveTriggerState inserts or replaces the scheduling state of one (user, kind).
func (r *SQLiteRepo) SaveTriggerState(ctx context.Context, st domain.TriggerState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trigger_states (user_id, kind, enabled, last_fired_at, next_due_at, retry_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			enabled       = excluded.enabled,
			last_fired_at = excluded.last_fired_at,
			next_due_at   = excluded.next_due_at,
			retry_at      = excluded.retry_at,
			attempts      = excluded.attempts`,
		st.UserID, string(st.Kind), boolToInt(st.Enabled), toNullInt64(st.LastFiredAt), st.NextDueAt.UTC().Unix(),
		toNullInt64(st.RetryAt), st.Attempts,
	)
	return err
}

// LoadTriggerState returns the state of one (user, kind) or ErrNotFound.
func (r *SQLiteRepo) LoadTriggerState(ctx context.Context, userID int64, kind domain.EventKind) (domain.TriggerState, error) {
	var row triggerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, kind, enabled, last_fired_at, next_due_at, retry_at, attempts
		FROM trigger_states
		WHERE user_id = ? AND kind = ?`,
		userID, string(kind),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TriggerState{}, ErrNotFound
	}
	if err != nil {
		return domain.TriggerState{}, err
	}
	return row.toDomain(), nil
}

// LoadTriggerStates returns every trigger of a user ordered by next_due_at.
func (r *SQLiteRepo) LoadTriggerStates(ctx context.Context, userID int64) ([]domain.TriggerState, error) {
	var rows []triggerRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, kind, enabled, last_fired_at, next_due_at, retry_at, attempts
		FROM trigger_states
		WHERE user_id = ?
		ORDER BY next_due_at ASC, kind ASC`,
		userID,
	); err != nil {
		return nil, err
	}
	out := make([]domain.TriggerState, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListDueTriggers returns up to limit enabled triggers due at or before now,
// oldest first. A trigger backing off after a failed delivery is due at its retry instant.
func (r *SQLiteRepo) ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.TriggerState, error) {
	var rows []triggerRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, kind, enabled, last_fired_at, next_due_at, retry_at, attempts
		FROM trigger_states
		WHERE enabled = 1
		  AND COALESCE(retry_at, next_due_at) <= ?
		ORDER BY COALESCE(retry_at, next_due_at) ASC, user_id ASC, kind ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	); err != nil {
		return nil, err
	}
	out := make([]domain.TriggerState, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// SetTriggerEnabled toggles one trigger without touching its schedule.
func (r *SQLiteRepo) SetTriggerEnabled(ctx context.Context, userID int64, kind domain.EventKind, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trigger_states
		SET enabled = ?
		WHERE user_id = ? AND kind = ?`,
		boolToInt(enabled), userID, string(kind),
	)
	return err
}

// RecordContribution appends a contribution.
func (r *SQLiteRepo) RecordContribution(ctx context.Context, c domain.Contribution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contributions (id, user_id, amount, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(), c.UserID, c.Amount.String(), c.Source, c.CreatedAt.UTC().Unix(),
	)
	return err
}

// SumContributions returns the total and the count of a user's contributions.
// Amounts are stored as decimal text and summed exactly.
func (r *SQLiteRepo) SumContributions(ctx context.Context, userID int64) (decimal.Decimal, int, error) {
	var amounts []string
	if err := r.db.SelectContext(ctx, &amounts, `
		SELECT amount FROM contributions WHERE user_id = ?`,
		userID,
	); err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("contribution amount %q: %w", a, err)
		}
		total = total.Add(d)
	}
	return total, len(amounts), nil
}

// RecordDigest appends a delivered digest to the history.
func (r *SQLiteRepo) RecordDigest(ctx context.Context, d domain.DigestRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO digests (id, user_id, sent_at, partial, instruments)
		VALUES (:id, :user_id, :sent_at, :partial, :instruments)`,
		digestRow{
			ID:          d.ID.String(),
			UserID:      d.UserID,
			SentAt:      d.SentAt.UTC().Unix(),
			Partial:     boolToInt(d.Partial),
			Instruments: strings.Join(d.Instruments, ","),
		},
	)
	return err
}

// LastDigest returns the most recent delivered digest of a user or ErrNotFound.
func (r *SQLiteRepo) LastDigest(ctx context.Context, userID int64) (domain.DigestRecord, error) {
	var row digestRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, user_id, sent_at, partial, instruments
		FROM digests
		WHERE user_id = ?
		ORDER BY sent_at DESC
		LIMIT 1`,
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DigestRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.DigestRecord{}, err
	}
	return row.toDomain()
}
