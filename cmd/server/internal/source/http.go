package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Compile-time check to ensure HTTPClient implements QuoteSource
var _ QuoteSource = (*HTTPClient)(nil)

// HTTPClient polls a quote API (cmd/quotesim in local runs) over plain HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch requests current quotes for the given symbols. A 429 maps to
// ErrRateLimited so the scheduler can back off.
func (c *HTTPClient) Fetch(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	if len(symbols) == 0 {
		return map[string]models.Quote{}, nil
	}

	u := fmt.Sprintf("%s/api/quotes?symbols=%s", c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("quote fetch: unexpected status %d", resp.StatusCode)
	}

	var quotes []models.Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("quote fetch: decode: %w", err)
	}

	out := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		if q.Symbol == "" || !q.Price.IsPositive() {
			c.logger.Warn("Dropping malformed quote", zap.String("symbol", q.Symbol))
			continue
		}
		out[q.Symbol] = q
	}
	return out, nil
}
