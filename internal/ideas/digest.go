package ideas

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

// Params bounds one aggregation run.
type Params struct {
	TopN           int
	MinSources     int
	MaxAgeDays     int
	ScoreThreshold float64
}

// MaxAge is MaxAgeDays as a duration.
func (p Params) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

// Candidate is an instrument with the facts collected for it in one run.
type Candidate struct {
	Instrument  Instrument
	Facts       map[market.FactKind]market.Fact
	Score       float64
	SourceCount int           // distinct providers contributing at least one fact
	MaxFactAge  time.Duration // age of the oldest contributing fact
}

func newCandidate(in Instrument, facts map[market.FactKind]market.Fact, now time.Time) *Candidate {
	c := &Candidate{Instrument: in, Facts: facts}
	sources := make(map[string]struct{})
	for _, f := range facts {
		sources[f.Source] = struct{}{}
		if age := now.Sub(f.ObservedAt); age > c.MaxFactAge {
			c.MaxFactAge = age
		}
	}
	c.SourceCount = len(sources)
	return c
}

// Sources lists the contributing providers in name order.
func (c *Candidate) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range c.Facts {
		if _, ok := seen[f.Source]; ok {
			continue
		}
		seen[f.Source] = struct{}{}
		out = append(out, f.Source)
	}
	sort.Strings(out)
	return out
}

// Price returns the quoted price, if any fact carries one.
func (c *Candidate) Price() (float64, bool) {
	for _, k := range []market.FactKind{market.KindQuote, market.KindMomentum} {
		if f, ok := c.Facts[k]; ok {
			if p, ok := f.Attr(market.AttrPrice); ok {
				return p, true
			}
		}
	}
	return 0, false
}

// dayChange prefers the live quote over the last daily close.
func (c *Candidate) dayChange() (float64, bool) {
	for _, k := range []market.FactKind{market.KindQuote, market.KindMomentum} {
		if f, ok := c.Facts[k]; ok {
			if ch, ok := f.Attr(market.AttrChangePct); ok {
				return ch, true
			}
		}
	}
	return 0, false
}

func (c *Candidate) keyRate() (float64, bool) {
	f, ok := c.Facts[market.KindMacro]
	if !ok {
		return 0, false
	}
	return f.Attr(market.AttrKeyRate)
}

// Digest is the ranked result of one aggregation run.
type Digest struct {
	ID         uuid.UUID
	BuiltAt    time.Time
	Ideas      []*Candidate
	Considered int  // instruments evaluated before the run ended
	Partial    bool // the build deadline cut the run short
}

// IDs lists instrument ids of the ideas in rank order.
func (d Digest) IDs() []string {
	ids := make([]string, len(d.Ideas))
	for i, c := range d.Ideas {
		ids[i] = c.Instrument.ID
	}
	return ids
}

// rank filters scored candidates and orders them by score descending,
// then fresher first, then instrument id ascending.
func rank(cands []*Candidate, p Params) []*Candidate {
	maxAge := p.MaxAge()
	kept := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if len(c.Facts) == 0 || c.SourceCount < p.MinSources || c.MaxFactAge > maxAge {
			continue
		}
		if c.Score < p.ScoreThreshold {
			continue
		}
		kept = append(kept, c)
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.MaxFactAge != b.MaxFactAge {
			return a.MaxFactAge < b.MaxFactAge
		}
		return a.Instrument.ID < b.Instrument.ID
	})
	if p.TopN >= 0 && len(kept) > p.TopN {
		kept = kept[:p.TopN]
	}
	return kept
}
