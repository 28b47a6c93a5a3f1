package ideas

import (
	"math"
	"sort"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

// Weights is the scoring policy. The score is the weighted mean of four signals,
// each in [0,1], so it rises with freshness and with source agreement.
type Weights struct {
	Freshness    float64
	Agreement    float64
	Fundamentals float64
	Momentum     float64
	// Tolerance is the relative band around the median price within which
	// independent providers count as agreeing.
	Tolerance float64
}

func DefaultWeights() Weights {
	return Weights{Freshness: 0.3, Agreement: 0.2, Fundamentals: 0.3, Momentum: 0.2, Tolerance: 0.05}
}

// agreementQuorum is the number of agreeing providers that saturates the agreement signal.
const agreementQuorum = 2

// Score rates a candidate at now. horizon is the age at which a fact's freshness reaches zero.
func Score(c *Candidate, now time.Time, horizon time.Duration, w Weights) float64 {
	total := w.Freshness + w.Agreement + w.Fundamentals + w.Momentum
	if total <= 0 || len(c.Facts) == 0 {
		return 0
	}
	s := w.Freshness*freshness(c, now, horizon) +
		w.Agreement*agreement(c, w.Tolerance) +
		w.Fundamentals*fundamentals(c) +
		w.Momentum*momentum(c)
	return math.Round(clamp(s/total)*1e4) / 1e4
}

func freshness(c *Candidate, now time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 0
	}
	var sum float64
	for _, f := range c.Facts {
		age := now.Sub(f.ObservedAt)
		if age < 0 {
			age = 0
		}
		sum += clamp(1 - float64(age)/float64(horizon))
	}
	return sum / float64(len(c.Facts))
}

func agreement(c *Candidate, tolerance float64) float64 {
	bySource := make(map[string]float64)
	for _, f := range c.Facts {
		if p, ok := f.Attr(market.AttrPrice); ok && p > 0 {
			bySource[f.Source] = p
		}
	}
	switch len(bySource) {
	case 0:
		return 0
	case 1:
		return 0.5
	}
	prices := make([]float64, 0, len(bySource))
	for _, p := range bySource {
		prices = append(prices, p)
	}
	sort.Float64s(prices)
	median := prices[len(prices)/2]
	if len(prices)%2 == 0 {
		median = (prices[len(prices)/2-1] + median) / 2
	}
	agreeing := 0
	for _, p := range prices {
		if math.Abs(p-median) <= tolerance*median {
			agreeing++
		}
	}
	if agreeing < agreementQuorum {
		return 0.5 * float64(agreeing) / agreementQuorum
	}
	return 1
}

func fundamentals(c *Candidate) float64 {
	score := 0.4
	f, ok := c.Facts[market.KindFundamentals]
	if !ok {
		return score
	}
	if pe, ok := f.Attr(market.AttrPE); ok && pe > 0 {
		switch {
		case pe >= 5 && pe <= 15:
			score += 0.3
		case pe < 5 || pe > 25:
			score -= 0.1
		}
	}
	if dy, ok := f.Attr(market.AttrDivYield); ok && dy > 0 {
		rate, hasRate := c.keyRate()
		switch {
		case hasRate && dy >= rate:
			score += 0.2
		case dy >= 5:
			score += 0.1
		}
	}
	return clamp(score)
}

func momentum(c *Candidate) float64 {
	score := 0.5 + daySignal(c)
	f, ok := c.Facts[market.KindMomentum]
	if !ok {
		return clamp(score)
	}
	price, hasPrice := f.Attr(market.AttrPrice)
	if !hasPrice {
		price, hasPrice = c.Price()
	}
	sma20, has20 := f.Attr(market.AttrSMA20)
	if hasPrice && has20 && sma20 > 0 {
		sma50, has50 := f.Attr(market.AttrSMA50)
		if !has50 {
			sma50 = sma20
		}
		switch {
		case price >= sma20 && sma20 >= sma50:
			score += 0.2
		case price < sma20:
			score -= 0.1
		}
	}
	if sma200, ok := f.Attr(market.AttrSMA200); ok && hasPrice && sma200 > 0 && price >= sma200 {
		score += 0.1
	}
	if rsi, ok := f.Attr(market.AttrRSI14); ok {
		switch {
		case rsi >= 40 && rsi <= 60:
			score += 0.1
		case rsi > 70 || rsi < 30:
			score -= 0.1
		}
	}
	if ch, ok := f.Attr(market.AttrChange7d); ok && ch > 0 {
		score += 0.2
	}
	return clamp(score)
}

// daySignal rewards a rising session and penalizes a drop beyond 3%.
func daySignal(c *Candidate) float64 {
	ch, ok := c.dayChange()
	switch {
	case !ok:
		return 0
	case ch > 0:
		return 0.1
	case ch < -3:
		return -0.1
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
