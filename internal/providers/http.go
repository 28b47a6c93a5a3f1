package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
)

const defaultUserAgent = "fin-assistant-bot/1.0"

// maxBody caps response bodies; ISS history pages and EDGAR submissions stay well below it.
const maxBody = 8 << 20

// getJSON performs a GET and decodes the JSON body into out, mapping failures onto market error kinds.
func getJSON(ctx context.Context, client *http.Client, provider, rawURL string, header http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return market.NewError(provider, market.Malformed, fmt.Errorf("build request: %w", err))
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return market.NewError(provider, market.Timeout, err)
		}
		return market.NewError(provider, market.Unavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return market.NewError(provider, market.NotFound, fmt.Errorf("GET %s: %s", req.URL.Path, resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests:
		return market.NewError(provider, market.RateLimited, fmt.Errorf("GET %s: %s", req.URL.Path, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return market.NewError(provider, market.Unavailable, fmt.Errorf("GET %s: %s", req.URL.Path, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return market.NewError(provider, market.Unavailable, fmt.Errorf("read body: %w", err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return market.NewError(provider, market.Malformed, fmt.Errorf("decode %s: %w", req.URL.Path, err))
	}
	return nil
}

// toFloat converts loosely typed JSON scalars such as 12.5, "12,5" or "12.5".
func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if s == "" || s == "." {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseDate accepts the date layouts the upstreams use.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
