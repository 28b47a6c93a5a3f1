package market

import (
	"context"
	"time"
)

// FactKind classifies a normalized data point.
type FactKind string

const (
	KindQuote        FactKind = "quote"        // last price
	KindFundamentals FactKind = "fundamentals" // P/E, dividend yield, market cap
	KindMomentum     FactKind = "momentum"     // moving averages, RSI, period change
	KindNews         FactKind = "news"         // latest filing or analytics headline
	KindMacro        FactKind = "macro"        // key rate, not tied to an instrument
	KindReference    FactKind = "reference"    // external reference series; the instrument is the series id
)

// Global reports whether facts of this kind are independent of the instrument.
func (k FactKind) Global() bool { return k == KindMacro }

// Attribute names carried in Fact.Attrs.
const (
	AttrPrice     = "price"
	AttrChangePct = "change_pct"
	AttrChange7d  = "change_7d_pct"
	AttrPE        = "pe"
	AttrDivYield  = "dividend_yield"
	AttrMarketCap = "market_cap"
	AttrSMA20     = "sma20"
	AttrSMA50     = "sma50"
	AttrSMA200    = "sma200"
	AttrRSI14     = "rsi14"
	AttrAvgValue  = "avg_value"
	AttrKeyRate   = "key_rate_pct"
	AttrMacroRate = "macro_rate_pct" // reference series value, e.g. FRED FEDFUNDS
)

// Fact is a single normalized observation with provenance.
type Fact struct {
	Instrument string
	Kind       FactKind
	Value      float64
	Attrs      map[string]float64
	Source     string    // provider name
	ObservedAt time.Time // when the upstream observed the value, UTC
	Title      string    // human readable note, e.g. filing form
	URL        string
}

// Attr returns the named attribute and whether it is present.
func (f Fact) Attr(name string) (float64, bool) {
	v, ok := f.Attrs[name]
	return v, ok
}

// Provider is one external market-data source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, instrument string, kind FactKind) (Fact, error)
}

// Coverer is implemented by providers that only serve a known set of instruments.
// The adapter skips a provider that does not cover an instrument instead of treating it as a failure.
type Coverer interface {
	Covers(instrument string) bool
}
