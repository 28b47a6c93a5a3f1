package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

func serveJSON(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMOEX(srv *httptest.Server) *MOEX {
	p := NewMOEX(srv.Client(), srv.URL, map[string]string{"SBER": "TQBR", "TMOS": "TQTF", "SU26238RMFS4": "TQOB"})
	p.now = func() time.Time { return time.Date(2025, 6, 20, 16, 0, 0, 0, time.UTC) }
	return p
}

func TestMOEX_Quote(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/iss/engines/stock/markets/shares/securities/SBER.json": `{
			"securities": {"columns": ["SECID","BOARDID","SHORTNAME"], "data": [["SBER","SMAL","Сбербанк"],["SBER","TQBR","Сбербанк"]]},
			"marketdata": {"columns": ["SECID","BOARDID","LAST","LASTCHANGEPRCNT","VALTODAY","SYSTIME"],
				"data": [["SBER","SMAL",null,null,null,"2025-06-20 18:00:00"],["SBER","TQBR",312.5,1.25,15000000000,"2025-06-20 18:49:59"]]}
		}`,
	})
	p := newTestMOEX(srv)

	f, err := p.Fetch(context.Background(), "SBER", market.KindQuote)
	require.NoError(t, err)
	assert.Equal(t, 312.5, f.Value)
	assert.Equal(t, 312.5, f.Attrs[market.AttrPrice])
	assert.Equal(t, 1.25, f.Attrs[market.AttrChangePct])
	assert.Equal(t, "Сбербанк", f.Title)
	assert.Equal(t, time.Date(2025, 6, 20, 15, 49, 59, 0, time.UTC), f.ObservedAt)
}

func TestMOEX_QuoteWithoutPriceIsNotFound(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/iss/engines/stock/markets/shares/securities/SBER.json": `{
			"marketdata": {"columns": ["BOARDID","LAST"], "data": [["TQBR",0]]}
		}`,
	})
	_, err := newTestMOEX(srv).Fetch(context.Background(), "SBER", market.KindQuote)
	assert.True(t, market.IsNotFound(err))
}

func TestMOEX_Fundamentals(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/iss/securities/SBER.json": `{
			"description": {"columns": ["name","title","value"], "data": [
				["SECID","Код","SBER"],["PE","P/E","4,2"],["DIVYIELD","Див. доходность","11.8"],["UPDATEDATE","Дата","2025-06-19"]
			]}
		}`,
	})
	f, err := newTestMOEX(srv).Fetch(context.Background(), "SBER", market.KindFundamentals)
	require.NoError(t, err)
	assert.Equal(t, 4.2, f.Attrs[market.AttrPE])
	assert.Equal(t, 11.8, f.Attrs[market.AttrDivYield])
	assert.Equal(t, time.Date(2025, 6, 18, 21, 0, 0, 0, time.UTC), f.ObservedAt)

	_, err = newTestMOEX(serveJSON(t, map[string]string{"/iss/securities/SBER.json": `{"description": {"columns": ["name","value"], "data": []}}`})).
		Fetch(context.Background(), "SBER", market.KindFundamentals)
	assert.True(t, market.IsNotFound(err))
}

func TestMOEXIssuer_ProfileWithoutRatios(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/iss/securities/LQDT.json": `{
			"description": {"columns": ["name","title","value"], "data": [
				["SECID","Код","LQDT"],["SHORTNAME","Краткое наименование","ВИМ - Ликвидность"],["UPDATEDATE","Дата","2025-06-19"]
			]}
		}`,
	})
	p := NewMOEXIssuer(srv.Client(), srv.URL, map[string]string{"LQDT": "TQTF"})
	assert.Equal(t, MOEXIssuerName, p.Name())

	f, err := p.Fetch(context.Background(), "LQDT", market.KindFundamentals)
	require.NoError(t, err)
	assert.Empty(t, f.Attrs)
	assert.Equal(t, "ВИМ - Ликвидность", f.Title)
	assert.Equal(t, time.Date(2025, 6, 18, 21, 0, 0, 0, time.UTC), f.ObservedAt)

	_, err = p.Fetch(context.Background(), "MISSING", market.KindFundamentals)
	var pe *market.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, MOEXIssuerName, pe.Provider)
	assert.Equal(t, market.NotFound, pe.Kind)
}

func TestMOEX_Momentum(t *testing.T) {
	var rows []string
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		rows = append(rows, fmt.Sprintf(`["TQTF","%s",%d,1000000]`, start.AddDate(0, 0, i).Format("2006-01-02"), 100+i))
	}
	srv := serveJSON(t, map[string]string{
		"/iss/history/engines/stock/markets/shares/boards/TQTF/securities/TMOS.json": `{"history": {"columns": ["BOARDID","TRADEDATE","CLOSE","VALUE"], "data": [` + strings.Join(rows, ",") + `]}}`,
	})
	f, err := newTestMOEX(srv).Fetch(context.Background(), "TMOS", market.KindMomentum)
	require.NoError(t, err)

	assert.Equal(t, 129.0, f.Value)
	assert.InDelta(t, 119.5, f.Attrs[market.AttrSMA20], 1e-9)
	assert.Equal(t, 100.0, f.Attrs[market.AttrRSI14])
	assert.Equal(t, 1000000.0, f.Attrs[market.AttrAvgValue])
	_, has50 := f.Attr(market.AttrSMA50)
	assert.False(t, has50)
	assert.Equal(t, time.Date(2025, 5, 29, 21, 0, 0, 0, time.UTC), f.ObservedAt)
}

func TestMOEX_KeyRate(t *testing.T) {
	for body, want := range map[string]float64{
		`{"ruonia": {"columns": ["tradedate","ruonia"], "data": [["2025-06-19", 20.45]]}}`: 20.45,
		`{"ruonia": {"columns": ["tradedate","ruonia"], "data": [["2025-06-19", 0.2]]}}`:   20,
	} {
		srv := serveJSON(t, map[string]string{"/iss/statistics/engines/stock/markets/bonds/ruonia.json": body})
		f, err := newTestMOEX(srv).Fetch(context.Background(), "*", market.KindMacro)
		require.NoError(t, err)
		assert.InDelta(t, want, f.Attrs[market.AttrKeyRate], 1e-9)
	}
}

func TestMOEX_ErrorKinds(t *testing.T) {
	status := map[string]int{
		"/iss/engines/stock/markets/shares/securities/SBER.json": http.StatusTooManyRequests,
		"/iss/securities/SBER.json":                              http.StatusBadGateway,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/iss/history/") {
			_, _ = w.Write([]byte(`{"history": [1, 2`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()
	p := newTestMOEX(srv)

	_, err := p.Fetch(context.Background(), "SBER", market.KindQuote)
	assert.Equal(t, market.RateLimited, market.KindOf(err))
	_, err = p.Fetch(context.Background(), "SBER", market.KindFundamentals)
	assert.Equal(t, market.Unavailable, market.KindOf(err))
	_, err = p.Fetch(context.Background(), "SBER", market.KindMomentum)
	assert.Equal(t, market.Malformed, market.KindOf(err))
	_, err = p.Fetch(context.Background(), "SBER", market.KindNews)
	assert.Equal(t, market.NotFound, market.KindOf(err))
}

func TestMOEX_Covers(t *testing.T) {
	p := NewMOEX(nil, "", map[string]string{"SBER": "TQBR"})
	assert.True(t, p.Covers("SBER"))
	assert.True(t, p.Covers("*"))
	assert.False(t, p.Covers("BTC"))
	assert.True(t, NewMOEX(nil, "", nil).Covers("ANY"))
}

func TestIndicators(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4}, 2)
	require.True(t, ok)
	assert.Equal(t, 3.5, v)
	_, ok = SMA([]float64{1}, 2)
	assert.False(t, ok)

	// alternating +1/-1 changes give equal average gain and loss
	closes := []float64{10}
	for i := 0; i < 14; i++ {
		closes = append(closes, closes[len(closes)-1]+float64(1-2*(i%2)))
	}
	rsi, ok := RSI(closes, 14)
	require.True(t, ok)
	assert.InDelta(t, 50, rsi, 1e-9)
	_, ok = RSI(closes[:14], 14)
	assert.False(t, ok)
}
