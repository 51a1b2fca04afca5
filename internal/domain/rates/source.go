package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Source fetches current fiat-per-BTC quotes
type Source interface {
	FetchRates(ctx context.Context, currencies []string) (map[string]float64, error)
	Name() string
}

// HTTPSource pulls spot prices from a CoinGecko-style simple price API
type HTTPSource struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPSource creates the HTTP rate source
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (s *HTTPSource) Name() string { return "coingecko" }

// FetchRates queries fiat-per-BTC for the given currency codes
func (s *HTTPSource) FetchRates(ctx context.Context, currencies []string) (map[string]float64, error) {
	lower := make([]string, 0, len(currencies))
	for _, c := range currencies {
		lower = append(lower, strings.ToLower(c))
	}

	q := url.Values{}
	q.Set("ids", "bitcoin")
	q.Set("vs_currencies", strings.Join(lower, ","))

	reqURL := strings.TrimRight(s.baseURL, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rate source: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate source: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rate source: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rate source returned %d: %s", resp.StatusCode, string(body))
	}

	// {"bitcoin": {"kes": 8500000.12, "ngn": ...}}
	var parsed map[string]map[string]float64
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("rate source: failed to parse response: %w", err)
	}

	quotes, ok := parsed["bitcoin"]
	if !ok {
		return nil, fmt.Errorf("rate source: bitcoin quotes missing from response")
	}

	out := make(map[string]float64, len(currencies))
	for _, c := range currencies {
		if rate, ok := quotes[strings.ToLower(c)]; ok && rate > 0 {
			out[strings.ToUpper(c)] = rate
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rate source: no usable quotes in response")
	}
	return out, nil
}
