package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

const (
	FREDName    = "fred"
	FREDBaseURL = "https://api.stlouisfed.org"
)

// FRED reads the St. Louis Fed series API. It serves reference series by id
// (the instrument of a reference fact) and backs the macro fact with the configured series.
type FRED struct {
	baseURL string
	client  *http.Client
	apiKey  string
	series  string
}

func NewFRED(client *http.Client, baseURL, apiKey, series string) *FRED {
	if baseURL == "" {
		baseURL = FREDBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if series == "" {
		series = "FEDFUNDS"
	}
	return &FRED{baseURL: strings.TrimRight(baseURL, "/"), client: client, apiKey: apiKey, series: series}
}

func (p *FRED) Name() string { return FREDName }

func (p *FRED) Fetch(ctx context.Context, instrument string, kind market.FactKind) (market.Fact, error) {
	var series string
	switch kind {
	case market.KindMacro:
		series = p.series
	case market.KindReference:
		series = strings.ToUpper(strings.TrimSpace(instrument))
		if series == "" || series == "*" {
			return market.Fact{}, market.NewError(FREDName, market.NotFound, errors.New("reference series not set"))
		}
	default:
		return market.Fact{}, market.NewError(FREDName, market.NotFound, fmt.Errorf("kind %s not served", kind))
	}
	if p.apiKey == "" {
		return market.Fact{}, market.NewError(FREDName, market.Unavailable, errors.New("api key not configured"))
	}

	q := url.Values{}
	q.Set("series_id", series)
	q.Set("api_key", p.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", "1")
	var resp struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := getJSON(ctx, p.client, FREDName, p.baseURL+"/fred/series/observations?"+q.Encode(), nil, &resp); err != nil {
		return market.Fact{}, err
	}
	if len(resp.Observations) == 0 {
		return market.Fact{}, market.NewError(FREDName, market.NotFound, fmt.Errorf("series %s has no observations", series))
	}
	obs := resp.Observations[0]
	v, ok := toFloat(obs.Value)
	if !ok {
		return market.Fact{}, market.NewError(FREDName, market.Malformed, fmt.Errorf("series %s value %q", series, obs.Value))
	}
	observed, ok := parseDate(obs.Date, time.UTC)
	if !ok {
		return market.Fact{}, market.NewError(FREDName, market.Malformed, fmt.Errorf("series %s date %q", series, obs.Date))
	}
	return market.Fact{
		Value:      v,
		Attrs:      map[string]float64{market.AttrMacroRate: v},
		ObservedAt: observed,
		Title:      series,
		URL:        "https://fred.stlouisfed.org/series/" + series,
	}, nil
}
