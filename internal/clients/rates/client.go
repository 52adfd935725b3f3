// Package rates fetches the annualized risk-free rate from the Nasdaq Data
// Link mirror of the Fed's zero-coupon Treasury yield series (FED/SVENY).
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rotor/internal/domain"
)

// Compile-time interface check.
var _ domain.RateSource = (*Client)(nil)

const defaultBaseURL = "https://data.nasdaq.com/api/v3/datasets/FED/SVENY/data.json"

// Client for the FED/SVENY dataset. The one-year tenor is the first value
// column of each row.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a rates client. The API key is optional for low volumes.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "rates").Logger(),
	}
}

// Row cells are heterogeneous (a date string followed by yields), so they
// decode lazily.
type datasetResponse struct {
	DatasetData struct {
		ColumnNames []string            `json:"column_names"`
		Data        [][]json.RawMessage `json:"data"`
	} `json:"dataset_data"`
}

// RiskFreeRate returns the latest one-year zero-coupon yield as a decimal
// fraction (the series publishes percent).
func (c *Client) RiskFreeRate(ctx context.Context) (float64, error) {
	url := c.baseURL + "?rows=1&order=desc"
	if c.apiKey != "" {
		url += "&api_key=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch yield series: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("yield series returned status %d", resp.StatusCode)
	}

	var payload datasetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode yield series: %w", err)
	}
	rows := payload.DatasetData.Data
	if len(rows) == 0 || len(rows[0]) < 2 {
		return 0, fmt.Errorf("yield series returned no rows")
	}

	// rows[0] is [date, SVENY01, SVENY02, ...]; index 1 is the 1-year tenor.
	var percent float64
	if err := json.Unmarshal(rows[0][1], &percent); err != nil {
		return 0, fmt.Errorf("parse yield %s: %w", rows[0][1], err)
	}
	rate := percent / 100
	c.log.Debug().Float64("rate", rate).Msg("risk-free rate fetched")
	return rate, nil
}
