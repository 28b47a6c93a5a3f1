package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

const (
	CoinGeckoName    = "coingecko"
	CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
)

// DefaultCoins maps ticker symbols onto CoinGecko coin ids.
func DefaultCoins() map[string]string {
	return map[string]string{"BTC": "bitcoin", "ETH": "ethereum"}
}

// CoinGecko serves crypto quotes and period changes in USD.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	coins   map[string]string
	now     func() time.Time
}

func NewCoinGecko(client *http.Client, baseURL string, coins map[string]string) *CoinGecko {
	if baseURL == "" {
		baseURL = CoinGeckoBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if coins == nil {
		coins = DefaultCoins()
	}
	return &CoinGecko{baseURL: strings.TrimRight(baseURL, "/"), client: client, coins: coins, now: time.Now}
}

func (p *CoinGecko) Name() string { return CoinGeckoName }

func (p *CoinGecko) Covers(instrument string) bool {
	_, ok := p.coins[instrument]
	return ok
}

type coinMarket struct {
	ID          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	Price       *float64 `json:"current_price"`
	MarketCap   *float64 `json:"market_cap"`
	Volume      *float64 `json:"total_volume"`
	Change24h   *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7d    *float64 `json:"price_change_percentage_7d_in_currency"`
	Change30d   *float64 `json:"price_change_percentage_30d_in_currency"`
	LastUpdated string   `json:"last_updated"`
}

func (p *CoinGecko) Fetch(ctx context.Context, instrument string, kind market.FactKind) (market.Fact, error) {
	if kind != market.KindQuote && kind != market.KindMomentum {
		return market.Fact{}, market.NewError(CoinGeckoName, market.NotFound, fmt.Errorf("kind %s not served", kind))
	}
	id, ok := p.coins[instrument]
	if !ok {
		return market.Fact{}, market.NewError(CoinGeckoName, market.NotFound, fmt.Errorf("unknown coin %s", instrument))
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", id)
	q.Set("price_change_percentage", "24h,7d,30d")
	var markets []coinMarket
	if err := getJSON(ctx, p.client, CoinGeckoName, p.baseURL+"/coins/markets?"+q.Encode(), nil, &markets); err != nil {
		return market.Fact{}, err
	}
	if len(markets) == 0 {
		return market.Fact{}, market.NewError(CoinGeckoName, market.NotFound, fmt.Errorf("no market for %s", id))
	}
	m := markets[0]
	if m.Price == nil || *m.Price <= 0 {
		return market.Fact{}, market.NewError(CoinGeckoName, market.Malformed, fmt.Errorf("no price for %s", id))
	}

	observed, ok := parseDate(m.LastUpdated, time.UTC)
	if !ok {
		observed = p.now().UTC()
	}
	attrs := map[string]float64{market.AttrPrice: *m.Price}
	set := func(name string, v *float64) {
		if v != nil {
			attrs[name] = *v
		}
	}
	set(market.AttrChangePct, m.Change24h)
	if kind == market.KindQuote {
		set(market.AttrMarketCap, m.MarketCap)
		set(market.AttrAvgValue, m.Volume)
	} else {
		set(market.AttrChange7d, m.Change7d)
	}
	return market.Fact{
		Value:      *m.Price,
		Attrs:      attrs,
		ObservedAt: observed,
		Title:      strings.ToUpper(instrument) + "/USD",
		URL:        "https://www.coingecko.com/en/coins/" + id,
	}, nil
}
