package telegram

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
	"github.com/ykvlv/fin-assistant-bot/internal/market"
	"github.com/ykvlv/fin-assistant-bot/internal/scheduler"
)

func TestFormatMoney(t *testing.T) {
	cases := map[string]string{
		"0":        "0",
		"999":      "999",
		"40000":    "40 000",
		"1500.5":   "1 500.5",
		"1234567":  "1 234 567",
		"10.126":   "10.13",
		"-2500000": "-2 500 000",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatMoney(decimal.RequireFromString(in)), in)
	}
}

func TestSplitCommand(t *testing.T) {
	cmd, arg := splitCommand("/add@finbot  5000 ")
	assert.Equal(t, "/add", cmd)
	assert.Equal(t, "5000", arg)

	cmd, arg = splitCommand("/STATUS")
	assert.Equal(t, "/status", cmd)
	assert.Empty(t, arg)

	cmd, arg = splitCommand("15 000")
	assert.Empty(t, cmd)
	assert.Equal(t, "15 000", arg)
}

func TestFormatDigest(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	d := ideas.Digest{
		BuiltAt: now,
		Ideas: []*ideas.Candidate{
			{
				Instrument: ideas.Instrument{ID: "SBER", Tag: "dividends"},
				Score:      0.8123,
				MaxFactAge: 3 * time.Hour,
				Facts: map[market.FactKind]market.Fact{
					market.KindQuote:    {Source: "moex", Attrs: map[string]float64{market.AttrPrice: 312.5}},
					market.KindMomentum: {Source: "coingecko"},
				},
			},
			{
				Instrument: ideas.Instrument{ID: "BTC"},
				Score:      0.7,
				MaxFactAge: 5 * 24 * time.Hour,
				Facts:      map[market.FactKind]market.Fact{market.KindNews: {Source: "edgar"}},
			},
		},
		Partial: true,
	}

	text := formatDigest(d, "Europe/Moscow")
	assert.Contains(t, text, "10 Jun 10:00")
	assert.Contains(t, text, "1. SBER [dividends] · score 0.81\n   price 312.50 · coingecko, moex · data age 3h")
	assert.Contains(t, text, "2. BTC · score 0.70\n   price n/a · edgar · data age 5d")
	assert.Contains(t, text, "may be incomplete")
	assert.Contains(t, text, disclaimer)

	empty := formatDigest(ideas.Digest{}, "Europe/Moscow")
	assert.Contains(t, empty, "Nothing passed the filters")
	assert.NotContains(t, empty, "may be incomplete")
}

func TestFormatStatus(t *testing.T) {
	u := &domain.UserSchedule{
		TZ:              "Europe/Moscow",
		AdvanceDay:      domain.IntPtr(25),
		DigestAtM:       600,
		DigestEnabled:   false,
		MinContribution: decimal.NewFromInt(10000),
		MaxContribution: decimal.NewFromInt(40000),
		Risk:            domain.RiskBalanced,
	}
	triggers := []domain.TriggerState{
		{Kind: domain.EventDigest, Enabled: false, NextDueAt: time.Date(2025, 6, 11, 7, 0, 0, 0, time.UTC)},
		{Kind: domain.EventAdvance, Enabled: true, NextDueAt: time.Date(2025, 6, 24, 21, 0, 0, 0, time.UTC)},
	}
	text := formatStatus(u, decimal.NewFromInt(55000), 3, triggers)
	assert.Contains(t, text, "• Salary day: not set")
	assert.Contains(t, text, "• Contribution: 10 000–40 000")
	assert.Contains(t, text, "• Digest: 10:00 (paused)")
	assert.Contains(t, text, "Saved so far: 55 000 (3 contributions)")
	assert.Contains(t, text, "• advance: 25 Jun 00:00")
	assert.NotContains(t, text, "• digest:")
}

func TestFormatContribution(t *testing.T) {
	u := &domain.UserSchedule{
		MinContribution: decimal.NewFromInt(10000),
		MaxContribution: decimal.NewFromInt(40000),
		Risk:            domain.RiskConservative,
	}
	amount := decimal.NewFromInt(5000)
	text := formatContribution(u, amount, amount, 1, domain.ProposeAllocation(amount, u.Risk))
	assert.Contains(t, text, "below your planned minimum of 10 000")
	assert.Contains(t, text, "• Government/corporate bonds: 2 750 (55%)")
}

func TestFormatReminder(t *testing.T) {
	u := &domain.UserSchedule{MinContribution: decimal.NewFromInt(10000), MaxContribution: decimal.NewFromInt(40000)}
	text := formatReminder(scheduler.ReminderDue{Kind: domain.EventAdvance, CatchUp: true, Profile: u})
	assert.Contains(t, text, "Advance day! (delivered late)")
	assert.Contains(t, text, "Plan: put aside 10 000–40 000.")
}
