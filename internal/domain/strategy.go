package domain

import "github.com/shopspring/decimal"

// AllocationLine is one bucket of a proposed contribution split.
type AllocationLine struct {
	Label  string
	Weight decimal.Decimal
	Amount decimal.Decimal
}

// Allocation is the proposed split of a contribution for a risk profile.
type Allocation struct {
	Target string
	Lines  []AllocationLine
}

type bucket struct {
	label  string
	weight string
}

var allocationPlans = map[Risk]struct {
	target  string
	buckets []bucket
}{
	RiskConservative: {"≈12–17% annual", []bucket{
		{"Government/corporate bonds", "0.55"},
		{"Dividend equities", "0.20"},
		{"Money market funds", "0.15"},
		{"Gold ETF", "0.10"},
	}},
	RiskBalanced: {"≈18–20% annual", []bucket{
		{"Equities (mixed)", "0.35"},
		{"Dividend equities", "0.20"},
		{"Government/corporate bonds", "0.25"},
		{"Gold ETF", "0.10"},
		{"Crypto (BTC/ETH)", "0.10"},
	}},
	RiskAggressive: {"≈20–25% annual", []bucket{
		{"Growth equities", "0.50"},
		{"Dividend equities", "0.15"},
		{"Crypto (BTC/ETH)", "0.10"},
		{"Gold ETF", "0.10"},
		{"High-yield bonds", "0.10"},
		{"Cash/money market", "0.05"},
	}},
}

// ProposeAllocation splits amount across the buckets of the risk profile.
// Amounts are rounded to whole units; the remainder goes to the first bucket so the total is preserved.
func ProposeAllocation(amount decimal.Decimal, risk Risk) Allocation {
	plan, ok := allocationPlans[risk]
	if !ok {
		plan = allocationPlans[RiskBalanced]
	}
	out := Allocation{Target: plan.target}
	total := decimal.Zero
	for _, b := range plan.buckets {
		w := decimal.RequireFromString(b.weight)
		part := amount.Mul(w).Round(0)
		total = total.Add(part)
		out.Lines = append(out.Lines, AllocationLine{Label: b.label, Weight: w, Amount: part})
	}
	if len(out.Lines) > 0 {
		out.Lines[0].Amount = out.Lines[0].Amount.Add(amount.Round(0).Sub(total))
	}
	return out
}
