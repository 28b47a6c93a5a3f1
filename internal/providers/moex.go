package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

const (
	MOEXName       = "moex"
	MOEXIssuerName = "moex_issuer"
	MOEXBaseURL    = "https://iss.moex.com"

	historyDays     = 260
	historyPageSize = 100
	historyMaxPages = 10
)

// moscow is the exchange timezone; ISS timestamps carry no offset.
var moscow = time.FixedZone("MSK", 3*60*60)

// MOEX reads the Moscow Exchange ISS API: quotes, issuer snapshot, daily history,
// RUONIA as the key-rate proxy and the analytics headline feed.
type MOEX struct {
	name    string
	baseURL string
	client  *http.Client
	boards  map[string]string // instrument id -> board
	now     func() time.Time
}

// NewMOEX creates the provider. boards maps the instruments it serves onto their trading board;
// an empty map serves every instrument on TQBR.
func NewMOEX(client *http.Client, baseURL string, boards map[string]string) *MOEX {
	if baseURL == "" {
		baseURL = MOEXBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MOEX{name: MOEXName, baseURL: strings.TrimRight(baseURL, "/"), client: client, boards: boards, now: time.Now}
}

// NewMOEXIssuer creates a provider over the ISS issuer profile and analytics feeds.
// They are published apart from the trading data, so it reports under its own name.
func NewMOEXIssuer(client *http.Client, baseURL string, boards map[string]string) *MOEX {
	p := NewMOEX(client, baseURL, boards)
	p.name = MOEXIssuerName
	return p
}

func (p *MOEX) Name() string { return p.name }

func (p *MOEX) Covers(instrument string) bool {
	if instrument == "*" || len(p.boards) == 0 {
		return true
	}
	_, ok := p.boards[instrument]
	return ok
}

func (p *MOEX) Fetch(ctx context.Context, instrument string, kind market.FactKind) (market.Fact, error) {
	switch kind {
	case market.KindQuote:
		return p.quote(ctx, instrument)
	case market.KindFundamentals:
		return p.fundamentals(ctx, instrument)
	case market.KindMomentum:
		return p.momentum(ctx, instrument)
	case market.KindMacro:
		return p.keyRate(ctx)
	case market.KindNews:
		return p.commentary(ctx)
	default:
		return market.Fact{}, market.NewError(p.name, market.NotFound, fmt.Errorf("kind %s not served", kind))
	}
}

func (p *MOEX) board(instrument string) string {
	if b, ok := p.boards[instrument]; ok && b != "" {
		return b
	}
	return "TQBR"
}

// marketFor maps a trading board onto its ISS market.
func marketFor(board string) string {
	switch board {
	case "TQOB", "TQCB", "TQOD", "TQIR":
		return "bonds"
	case "SNDX":
		return "index"
	case "CETS", "TOM":
		return "currencies"
	default:
		return "shares"
	}
}

type issTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

type issRow map[string]interface{}

func (t issTable) rows() []issRow {
	out := make([]issRow, 0, len(t.Data))
	for _, d := range t.Data {
		r := make(issRow, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(d) {
				r[strings.ToUpper(c)] = d[i]
			}
		}
		out = append(out, r)
	}
	return out
}

func (r issRow) float(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toFloat(r[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func (r issRow) positive(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toFloat(r[k]); ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func (r issRow) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (p *MOEX) tables(ctx context.Context, path string, q url.Values) (map[string]issTable, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("iss.meta", "off")
	var out map[string]issTable
	if err := getJSON(ctx, p.client, p.name, p.baseURL+path+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findRow(rows []issRow, board string) (issRow, bool) {
	for _, r := range rows {
		if strings.EqualFold(r.str("BOARDID"), board) {
			return r, true
		}
	}
	if len(rows) > 0 {
		return rows[0], true
	}
	return nil, false
}

func (p *MOEX) quote(ctx context.Context, id string) (market.Fact, error) {
	board := p.board(id)
	path := fmt.Sprintf("/iss/engines/stock/markets/%s/securities/%s.json", marketFor(board), url.PathEscape(id))
	t, err := p.tables(ctx, path, nil)
	if err != nil {
		return market.Fact{}, err
	}
	md, ok := findRow(t["marketdata"].rows(), board)
	if !ok {
		return market.Fact{}, market.NewError(p.name, market.NotFound, fmt.Errorf("no market data for %s on %s", id, board))
	}
	price, ok := md.positive("LAST", "LCLOSEPRICE", "MARKETPRICE3", "MARKETPRICE", "CLOSE", "CURRENTVALUE", "LASTVALUE")
	if !ok {
		return market.Fact{}, market.NewError(p.name, market.NotFound, fmt.Errorf("no price for %s", id))
	}
	observed, ok := parseDate(md.str("SYSTIME", "UPDATETIME", "TRADEDATE"), moscow)
	if !ok {
		observed = p.now().UTC()
	}
	attrs := map[string]float64{market.AttrPrice: price}
	if ch, ok := md.float("LASTCHANGEPRCNT", "LASTCHANGETOOPENPRC"); ok {
		attrs[market.AttrChangePct] = ch
	}
	if v, ok := md.float("VALTODAY"); ok {
		attrs[market.AttrAvgValue] = v
	}
	title := ""
	if sec, ok := findRow(t["securities"].rows(), board); ok {
		title = sec.str("SHORTNAME", "SECNAME")
	}
	return market.Fact{
		Value:      price,
		Attrs:      attrs,
		ObservedAt: observed,
		Title:      title,
		URL:        fmt.Sprintf("https://www.moex.com/ru/issue.aspx?board=%s&code=%s", board, id),
	}, nil
}

func (p *MOEX) fundamentals(ctx context.Context, id string) (market.Fact, error) {
	t, err := p.tables(ctx, fmt.Sprintf("/iss/securities/%s.json", url.PathEscape(id)), nil)
	if err != nil {
		return market.Fact{}, err
	}
	// Flat snapshot row first, then the name/value description table.
	fields := issRow{}
	if rows := t["securities"].rows(); len(rows) > 0 {
		fields = rows[0]
	}
	for _, r := range t["description"].rows() {
		if name := strings.ToUpper(r.str("NAME")); name != "" {
			if _, exists := fields[name]; !exists {
				fields[name] = r["VALUE"]
			}
		}
	}

	if len(fields) == 0 {
		return market.Fact{}, market.NewError(p.name, market.NotFound, fmt.Errorf("no issuer profile for %s", id))
	}

	// Funds and indices have a profile without ratios; the fact then only vouches for the listing.
	attrs := make(map[string]float64)
	for field, attr := range map[string]string{
		"PE":                  market.AttrPE,
		"DIVYIELD":            market.AttrDivYield,
		"ISSUECAPITALIZATION": market.AttrMarketCap,
	} {
		if v, ok := fields.float(field); ok {
			attrs[attr] = v
		}
	}
	observed, ok := parseDate(fields.str("UPDATEDATE", "LISTLEVELCHANGEDATE"), moscow)
	if !ok {
		observed = p.now().UTC()
	}
	return market.Fact{
		Value:      attrs[market.AttrPE],
		Attrs:      attrs,
		ObservedAt: observed,
		Title:      fields.str("SHORTNAME", "NAME", "SECNAME"),
		URL:        fmt.Sprintf("%s/iss/securities/%s.json", MOEXBaseURL, id),
	}, nil
}

type historyPoint struct {
	date  time.Time
	close float64
	value float64
}

func (p *MOEX) history(ctx context.Context, id, board string) ([]historyPoint, error) {
	path := fmt.Sprintf("/iss/history/engines/stock/markets/%s/boards/%s/securities/%s.json",
		marketFor(board), board, url.PathEscape(id))
	from := p.now().In(moscow).AddDate(0, 0, -2*historyDays).Format("2006-01-02")

	var points []historyPoint
	for page, start := 0, 0; page < historyMaxPages; page++ {
		q := url.Values{}
		q.Set("from", from)
		q.Set("start", strconv.Itoa(start))
		t, err := p.tables(ctx, path, q)
		if err != nil {
			return nil, err
		}
		rows := t["history"].rows()
		for _, r := range rows {
			d, ok := parseDate(r.str("TRADEDATE"), moscow)
			if !ok {
				continue
			}
			c, ok := r.positive("CLOSE", "LEGALCLOSEPRICE", "MARKETPRICE3", "MARKETPRICE")
			if !ok {
				continue
			}
			v, _ := r.float("VALUE")
			points = append(points, historyPoint{date: d, close: c, value: v})
		}
		if len(rows) < historyPageSize || len(points) >= 2*historyDays {
			break
		}
		start += len(rows)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].date.Before(points[j].date) })
	if len(points) > historyDays {
		points = points[len(points)-historyDays:]
	}
	return points, nil
}

func (p *MOEX) momentum(ctx context.Context, id string) (market.Fact, error) {
	points, err := p.history(ctx, id, p.board(id))
	if err != nil {
		return market.Fact{}, err
	}
	if len(points) == 0 {
		return market.Fact{}, market.NewError(p.name, market.NotFound, fmt.Errorf("no history for %s", id))
	}
	closes := make([]float64, len(points))
	values := make([]float64, 0, len(points))
	for i, pt := range points {
		closes[i] = pt.close
		if pt.value > 0 {
			values = append(values, pt.value)
		}
	}
	last := closes[len(closes)-1]
	attrs := map[string]float64{market.AttrPrice: last}
	for n, attr := range map[int]string{20: market.AttrSMA20, 50: market.AttrSMA50, 200: market.AttrSMA200} {
		if v, ok := SMA(closes, n); ok {
			attrs[attr] = v
		}
	}
	if v, ok := RSI(closes, 14); ok {
		attrs[market.AttrRSI14] = v
	}
	if len(values) > 0 {
		tail := values
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		var sum float64
		for _, v := range tail {
			sum += v
		}
		attrs[market.AttrAvgValue] = sum / float64(len(tail))
	}
	if len(closes) > 1 && closes[len(closes)-2] > 0 {
		attrs[market.AttrChangePct] = (last/closes[len(closes)-2] - 1) * 100
	}
	return market.Fact{
		Value:      last,
		Attrs:      attrs,
		ObservedAt: points[len(points)-1].date,
		Title:      fmt.Sprintf("%d trading days", len(points)),
	}, nil
}

// SMA is the simple moving average of the last n values.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// RSI is the relative strength index over the last n changes, using simple averages.
func RSI(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) <= n {
		return 0, false
	}
	var gain, loss float64
	for i := len(values) - n; i < len(values); i++ {
		ch := values[i] - values[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	if loss == 0 {
		return 100, true
	}
	rs := (gain / float64(n)) / (loss / float64(n))
	return 100 - 100/(1+rs), true
}

func (p *MOEX) keyRate(ctx context.Context) (market.Fact, error) {
	q := url.Values{}
	q.Set("limit", "1")
	t, err := p.tables(ctx, "/iss/statistics/engines/stock/markets/bonds/ruonia.json", q)
	if err != nil {
		return market.Fact{}, err
	}
	rows := t["ruonia"].rows()
	if len(rows) == 0 {
		rows = t["data"].rows()
	}
	if len(rows) == 0 {
		return market.Fact{}, market.NewError(p.name, market.NotFound, errors.New("empty ruonia table"))
	}
	v, ok := rows[0].float("RUONIA", "VALUE", "RUONIAINDEX")
	if !ok {
		return market.Fact{}, market.NewError(p.name, market.Malformed, errors.New("ruonia row without a numeric value"))
	}
	// Some ISS endpoints report a fraction instead of percent.
	if v <= 1.5 {
		v *= 100
	}
	observed, ok := parseDate(rows[0].str("TRADEDATE", "DATE"), moscow)
	if !ok {
		observed = p.now().UTC()
	}
	return market.Fact{
		Value:      v,
		Attrs:      map[string]float64{market.AttrKeyRate: v},
		ObservedAt: observed,
		Title:      "RUONIA",
	}, nil
}

func (p *MOEX) commentary(ctx context.Context) (market.Fact, error) {
	t, err := p.tables(ctx, "/iss/statistics/engines/stock/markets/index/analytics.json", nil)
	if err != nil {
		return market.Fact{}, err
	}
	rows := t["analytics"].rows()
	if len(rows) == 0 {
		return market.Fact{}, market.NewError(p.name, market.NotFound, errors.New("no analytics"))
	}
	title := rows[0].str("TITLE", "NAME")
	if title == "" {
		return market.Fact{}, market.NewError(p.name, market.NotFound, errors.New("analytics without title"))
	}
	observed, ok := parseDate(rows[0].str("PUBLISHED_AT", "DATE", "TRADEDATE"), moscow)
	if !ok {
		observed = p.now().UTC()
	}
	return market.Fact{
		Value:      1,
		ObservedAt: observed,
		Title:      title,
		URL:        rows[0].str("URL", "HREF", "LINK"),
	}, nil
}
