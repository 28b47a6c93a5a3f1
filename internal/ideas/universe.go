package ideas

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ykvlv/fin-assistant-bot/assets"
	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

// Class is the asset class of an instrument.
type Class string

const (
	ClassStock  Class = "stock"
	ClassBond   Class = "bond"
	ClassETF    Class = "etf"
	ClassCrypto Class = "crypto"
)

// Instrument is one universe entry.
type Instrument struct {
	ID        string            `yaml:"id"`
	Class     Class             `yaml:"class"`
	Board     string            `yaml:"board,omitempty"`     // MOEX board, e.g. TQBR
	Tag       string            `yaml:"tag,omitempty"`       // portfolio bucket, e.g. dividends
	Reference string            `yaml:"reference,omitempty"` // FRED series; "-" disables the tag default
	Kinds     []market.FactKind `yaml:"kinds,omitempty"`     // overrides the class default
}

// referenceByTag picks the FRED series that gives an outside view on each bucket.
var referenceByTag = map[string]string{
	"bonds":       "RUSCPIALLMINMEI", // OECD Russia CPI
	"bonds_index": "RUSCPIALLMINMEI",
	"growth":      "DGS10", // US 10Y Treasury
	"core_equity": "DGS10",
	"dividends":   "FEDFUNDS",
	"cash":        "FEDFUNDS",
	"etf":         "DGS10",
	"gold":        "DGS10",
}

// ReferenceSeries is the FRED series collected for the instrument, or "" when none applies.
func (i Instrument) ReferenceSeries() string {
	switch i.Reference {
	case "-":
		return ""
	case "":
		return referenceByTag[i.Tag]
	default:
		return i.Reference
	}
}

// RequiredKinds lists the fact kinds collected for the instrument.
func (i Instrument) RequiredKinds() []market.FactKind {
	if len(i.Kinds) > 0 {
		return i.Kinds
	}
	var kinds []market.FactKind
	switch i.Class {
	case ClassStock:
		kinds = []market.FactKind{market.KindQuote, market.KindFundamentals, market.KindMomentum, market.KindNews, market.KindMacro}
	case ClassBond, ClassETF:
		kinds = []market.FactKind{market.KindQuote, market.KindFundamentals, market.KindMomentum, market.KindMacro}
	default:
		return []market.FactKind{market.KindQuote, market.KindMomentum}
	}
	if i.ReferenceSeries() != "" {
		kinds = append(kinds, market.KindReference)
	}
	return kinds
}

// subject is the id a fact kind is fetched and cached under. Reference facts are
// shared by every instrument that follows the same series.
func (i Instrument) subject(kind market.FactKind) string {
	if kind == market.KindReference {
		return i.ReferenceSeries()
	}
	return i.ID
}

// Universe is the set of instruments considered for each risk profile.
type Universe struct {
	Profiles map[domain.Risk][]Instrument `yaml:"profiles"`
	Extras   []Instrument                 `yaml:"extras"`
	// Tradable restricts stock, bond and ETF picks to what the broker offers.
	// A nil map allows everything.
	Tradable map[Class][]string `yaml:"tradable"`
}

// LoadUniverse reads the universe file at path, or the embedded default when path is empty.
func LoadUniverse(path string) (*Universe, error) {
	if path == "" {
		return ParseUniverse(assets.Universe)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe: %w", err)
	}
	return ParseUniverse(data)
}

// ParseUniverse decodes and validates a universe document.
func ParseUniverse(data []byte) (*Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	for risk, list := range u.Profiles {
		if _, err := domain.ParseRisk(string(risk)); err != nil {
			return nil, fmt.Errorf("universe profile: %w", err)
		}
		if err := normalize(list); err != nil {
			return nil, fmt.Errorf("universe profile %s: %w", risk, err)
		}
	}
	if err := normalize(u.Extras); err != nil {
		return nil, fmt.Errorf("universe extras: %w", err)
	}
	for class, ids := range u.Tradable {
		for i := range ids {
			ids[i] = normalizeSymbol(ids[i])
		}
		u.Tradable[class] = ids
	}
	return &u, nil
}

func normalize(list []Instrument) error {
	for i := range list {
		list[i].ID = normalizeSymbol(list[i].ID)
		if list[i].ID == "" {
			return fmt.Errorf("entry %d: empty id", i)
		}
		switch list[i].Class {
		case ClassStock, ClassBond, ClassETF, ClassCrypto:
		case "":
			list[i].Class = ClassStock
		default:
			return fmt.Errorf("%s: unknown class %q", list[i].ID, list[i].Class)
		}
		list[i].Board = strings.ToUpper(strings.TrimSpace(list[i].Board))
		list[i].Reference = strings.ToUpper(strings.TrimSpace(list[i].Reference))
	}
	return nil
}

// normalizeSymbol upper-cases a ticker and drops broker suffixes like "SBER;TQBR".
func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// For returns the profile instruments followed by the extras, deduplicated and
// filtered by the tradable list.
func (u *Universe) For(risk domain.Risk) []Instrument {
	seen := make(map[string]bool)
	var out []Instrument
	add := func(list []Instrument) {
		for _, in := range list {
			if seen[in.ID] || !u.IsTradable(in) {
				continue
			}
			seen[in.ID] = true
			out = append(out, in)
		}
	}
	add(u.Profiles[risk])
	add(u.Extras)
	return out
}

// IsTradable reports whether the broker list allows the instrument. Crypto is never restricted.
func (u *Universe) IsTradable(in Instrument) bool {
	if u.Tradable == nil || in.Class == ClassCrypto {
		return true
	}
	for _, id := range u.Tradable[in.Class] {
		if id == in.ID {
			return true
		}
	}
	return false
}

// All returns every distinct instrument of the universe, ordered by id.
func (u *Universe) All() []Instrument {
	byID := make(map[string]Instrument)
	for _, list := range u.Profiles {
		for _, in := range list {
			byID[in.ID] = in
		}
	}
	for _, in := range u.Extras {
		byID[in.ID] = in
	}
	out := make([]Instrument, 0, len(byID))
	for _, in := range byID {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Boards maps MOEX instrument ids to their trading board.
func (u *Universe) Boards() map[string]string {
	boards := make(map[string]string)
	for _, in := range u.All() {
		if in.Board != "" {
			boards[in.ID] = in.Board
		}
	}
	return boards
}
