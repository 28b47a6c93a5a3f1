package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

const (
	EDGARName        = "edgar"
	EDGARFilesURL    = "https://www.sec.gov"
	EDGARDataURL     = "https://data.sec.gov"
	edgarTickerTTL   = 24 * time.Hour
	edgarDefaultName = "fin-assistant-bot admin@example.com"
)

var earningsForms = map[string]bool{"10-Q": true, "10-K": true}

// EDGAR reports the latest periodic filing (10-Q or 10-K) of a US issuer as a news fact.
type EDGAR struct {
	filesURL  string
	dataURL   string
	client    *http.Client
	userAgent string
	tickers   map[string]bool
	now       func() time.Time

	mu       sync.Mutex
	ciks     map[string]string // ticker -> zero padded CIK
	loadedAt time.Time
}

// NewEDGAR creates the provider for the given US tickers; nil serves every ticker.
// SEC requires a descriptive User-Agent with contact details.
func NewEDGAR(client *http.Client, filesURL, dataURL, userAgent string, tickers []string) *EDGAR {
	if filesURL == "" {
		filesURL = EDGARFilesURL
	}
	if dataURL == "" {
		dataURL = EDGARDataURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = edgarDefaultName
	}
	p := &EDGAR{
		filesURL:  strings.TrimRight(filesURL, "/"),
		dataURL:   strings.TrimRight(dataURL, "/"),
		client:    client,
		userAgent: userAgent,
		now:       time.Now,
	}
	if tickers != nil {
		p.tickers = make(map[string]bool, len(tickers))
		for _, t := range tickers {
			p.tickers[strings.ToUpper(t)] = true
		}
	}
	return p
}

func (p *EDGAR) Name() string { return EDGARName }

func (p *EDGAR) Covers(instrument string) bool {
	return p.tickers == nil || p.tickers[instrument]
}

func (p *EDGAR) header() http.Header {
	return http.Header{"User-Agent": []string{p.userAgent}}
}

func (p *EDGAR) cik(ctx context.Context, ticker string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ciks == nil || p.now().Sub(p.loadedAt) > edgarTickerTTL {
		var payload map[string]struct {
			CIK    int64  `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		err := getJSON(ctx, p.client, EDGARName, p.filesURL+"/files/company_tickers.json", p.header(), &payload)
		if err != nil && p.ciks == nil {
			return "", err
		}
		if err == nil {
			ciks := make(map[string]string, len(payload))
			for _, e := range payload {
				if e.Ticker != "" && e.CIK > 0 {
					ciks[strings.ToUpper(e.Ticker)] = fmt.Sprintf("%010d", e.CIK)
				}
			}
			p.ciks, p.loadedAt = ciks, p.now()
		}
	}
	cik, ok := p.ciks[strings.ToUpper(ticker)]
	if !ok {
		return "", market.NewError(EDGARName, market.NotFound, fmt.Errorf("ticker %s not registered with SEC", ticker))
	}
	return cik, nil
}

func (p *EDGAR) Fetch(ctx context.Context, instrument string, kind market.FactKind) (market.Fact, error) {
	if kind != market.KindNews {
		return market.Fact{}, market.NewError(EDGARName, market.NotFound, fmt.Errorf("kind %s not served", kind))
	}
	cik, err := p.cik(ctx, instrument)
	if err != nil {
		return market.Fact{}, err
	}

	var sub struct {
		Filings struct {
			Recent struct {
				Form            []string `json:"form"`
				ReportDate      []string `json:"reportDate"`
				FilingDate      []string `json:"filingDate"`
				AccessionNumber []string `json:"accessionNumber"`
				PrimaryDocument []string `json:"primaryDocument"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := getJSON(ctx, p.client, EDGARName, fmt.Sprintf("%s/submissions/CIK%s.json", p.dataURL, cik), p.header(), &sub); err != nil {
		return market.Fact{}, err
	}

	r := sub.Filings.Recent
	at := func(list []string, i int) string {
		if i < len(list) {
			return list[i]
		}
		return ""
	}
	for i, form := range r.Form {
		if !earningsForms[form] {
			continue
		}
		date := at(r.FilingDate, i)
		if date == "" {
			date = at(r.ReportDate, i)
		}
		observed, ok := parseDate(date, time.UTC)
		if !ok {
			return market.Fact{}, market.NewError(EDGARName, market.Malformed, fmt.Errorf("filing date %q", date))
		}
		link := "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=" + cik
		if acc, doc := strings.ReplaceAll(at(r.AccessionNumber, i), "-", ""), at(r.PrimaryDocument, i); acc != "" && doc != "" {
			n, _ := strconv.ParseInt(cik, 10, 64)
			link = fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%d/%s/%s", n, acc, doc)
		}
		return market.Fact{
			Value:      1,
			ObservedAt: observed,
			Title:      "SEC " + form,
			URL:        link,
		}, nil
	}
	return market.Fact{}, market.NewError(EDGARName, market.NotFound, fmt.Errorf("no periodic filings for %s", instrument))
}
