package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
)

func openTest(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testProfile(userID int64) *domain.UserSchedule {
	return &domain.UserSchedule{
		UserID:          userID,
		TZ:              "Europe/Moscow",
		AdvanceDay:      domain.IntPtr(10),
		SalaryDay:       domain.IntPtr(25),
		DigestAtM:       600,
		DigestEnabled:   true,
		MinContribution: decimal.RequireFromString("10000"),
		MaxContribution: decimal.RequireFromString("40000.50"),
		Risk:            domain.RiskBalanced,
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)

	_, err := repo.LoadProfile(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	p := testProfile(1)
	require.NoError(t, repo.UpsertProfile(ctx, p))

	got, err := repo.LoadProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, *got.AdvanceDay)
	assert.Equal(t, 25, *got.SalaryDay)
	assert.True(t, got.MaxContribution.Equal(p.MaxContribution))
	assert.Equal(t, p.CreatedAt, got.CreatedAt)

	p.SalaryDay = nil
	p.Risk = domain.RiskAggressive
	p.CreatedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertProfile(ctx, p))
	got, err = repo.LoadProfile(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.SalaryDay)
	assert.Equal(t, domain.RiskAggressive, got.Risk)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), got.CreatedAt, "created_at is immutable")
}

func TestTriggerStates(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)
	require.NoError(t, repo.UpsertProfile(ctx, testProfile(1)))
	require.NoError(t, repo.UpsertProfile(ctx, testProfile(2)))

	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	fired := now.Add(-24 * time.Hour)
	states := []domain.TriggerState{
		{UserID: 1, Kind: domain.EventDigest, Enabled: true, NextDueAt: now.Add(-time.Minute)},
		{UserID: 1, Kind: domain.EventSalary, Enabled: true, NextDueAt: now.Add(time.Hour)},
		{UserID: 2, Kind: domain.EventAdvance, Enabled: true, LastFiredAt: &fired, NextDueAt: now.Add(-time.Hour)},
		{UserID: 2, Kind: domain.EventDigest, Enabled: false, NextDueAt: now.Add(-time.Hour)},
	}
	for _, st := range states {
		require.NoError(t, repo.SaveTriggerState(ctx, st))
	}

	due, err := repo.ListDueTriggers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, domain.EventAdvance, due[0].Kind)
	assert.Equal(t, fired, *due[0].LastFiredAt)
	assert.Equal(t, domain.EventDigest, due[1].Kind)

	limited, err := repo.ListDueTriggers(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, repo.SetTriggerEnabled(ctx, 2, domain.EventDigest, true))
	due, err = repo.ListDueTriggers(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	next := now.Add(24 * time.Hour)
	require.NoError(t, repo.SaveTriggerState(ctx, domain.TriggerState{UserID: 1, Kind: domain.EventDigest, Enabled: true, LastFiredAt: &now, NextDueAt: next}))
	st, err := repo.LoadTriggerState(ctx, 1, domain.EventDigest)
	require.NoError(t, err)
	assert.Equal(t, next, st.NextDueAt)
	assert.Equal(t, now, *st.LastFiredAt)

	all, err := repo.LoadTriggerStates(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.LoadTriggerState(ctx, 1, domain.EventAdvance)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDueTriggers_RetryInstant(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, repo.UpsertProfile(ctx, testProfile(id)))
	}

	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * time.Minute)
	earlier := now.Add(-2 * time.Minute)
	require.NoError(t, repo.SaveTriggerState(ctx, domain.TriggerState{
		UserID: 1, Kind: domain.EventDigest, Enabled: true, NextDueAt: now.Add(-time.Hour), RetryAt: &later, Attempts: 2,
	}))
	require.NoError(t, repo.SaveTriggerState(ctx, domain.TriggerState{
		UserID: 2, Kind: domain.EventDigest, Enabled: true, NextDueAt: now.Add(-30 * time.Minute), RetryAt: &earlier, Attempts: 1,
	}))
	require.NoError(t, repo.SaveTriggerState(ctx, domain.TriggerState{
		UserID: 3, Kind: domain.EventDigest, Enabled: true, NextDueAt: now.Add(-5 * time.Minute),
	}))

	due, err := repo.ListDueTriggers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(3), due[0].UserID)
	assert.Equal(t, int64(2), due[1].UserID)
	assert.Equal(t, earlier, *due[1].RetryAt)
	assert.Equal(t, 1, due[1].Attempts)
	assert.Equal(t, earlier, due[1].DueAt())

	st, err := repo.LoadTriggerState(ctx, 1, domain.EventDigest)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, later, st.DueAt())
}

func TestContributionsAndDigests(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)
	require.NoError(t, repo.UpsertProfile(ctx, testProfile(7)))

	for _, amount := range []string{"10000.10", "2500.45", "0.45"} {
		require.NoError(t, repo.RecordContribution(ctx, domain.Contribution{
			ID:        uuid.New(),
			UserID:    7,
			Amount:    decimal.RequireFromString(amount),
			Source:    "salary",
			CreatedAt: time.Now(),
		}))
	}
	total, n, err := repo.SumContributions(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "12501", total.String())

	total, n, err = repo.SumContributions(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, total.IsZero())

	_, err = repo.LastDigest(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	older := domain.DigestRecord{ID: uuid.New(), UserID: 7, SentAt: time.Date(2025, 6, 19, 7, 0, 0, 0, time.UTC)}
	newer := domain.DigestRecord{ID: uuid.New(), UserID: 7, SentAt: time.Date(2025, 6, 20, 7, 0, 0, 0, time.UTC), Partial: true, Instruments: []string{"SBER", "BTC"}}
	require.NoError(t, repo.RecordDigest(ctx, older))
	require.NoError(t, repo.RecordDigest(ctx, newer))

	last, err := repo.LastDigest(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, last.ID)
	assert.True(t, last.Partial)
	assert.Equal(t, []string{"SBER", "BTC"}, last.Instruments)
}

func TestForeignKeys(t *testing.T) {
	repo := openTest(t)
	err := repo.SaveTriggerState(context.Background(), domain.TriggerState{UserID: 404, Kind: domain.EventDigest, Enabled: true, NextDueAt: time.Now()})
	assert.Error(t, err)
}
