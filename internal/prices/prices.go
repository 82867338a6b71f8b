// ABOUTME: USD valuation over a keyless public price API.
// ABOUTME: Pricing failures degrade to "value unknown", never to a fake zero.

package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// assetIDs maps ticker symbols to the price API's asset identifiers.
var assetIDs = map[string]string{
	"eth":  "ethereum",
	"sol":  "solana",
	"usdc": "usd-coin",
	"usdt": "tether",
}

// Client fetches USD spot prices from a CoinGecko-compatible endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New builds a price client. The endpoint must be https or loopback http.
func New(baseURL string) (*Client, error) {
	if err := CheckEndpoint(baseURL); err != nil {
		return nil, fmt.Errorf("price_base_url: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default().With("component", "prices"),
	}, nil
}

// USDValue prices amount units of asset. The bool reports whether a value
// could be computed; an unreachable or unknown-asset price is not an error,
// the policy engine treats unknown as maximal risk.
func (c *Client) USDValue(ctx context.Context, asset string, amount float64) (float64, bool) {
	price, known := c.spot(ctx, asset)
	if !known {
		return 0, false
	}
	return price * amount, true
}

func (c *Client) spot(ctx context.Context, asset string) (float64, bool) {
	id, ok := assetIDs[strings.ToLower(asset)]
	if !ok {
		c.logger.Warn("no price mapping for asset", "asset", asset)
		return 0, false
	}

	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.logger.Warn("building price request failed", "error", err)
		return 0, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("price fetch failed", "asset", asset, "error", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("price fetch failed", "asset", asset, "status", resp.StatusCode)
		return 0, false
	}

	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("decoding price response failed", "error", err)
		return 0, false
	}
	quote, ok := payload[id]
	if !ok || quote.USD <= 0 {
		return 0, false
	}
	return quote.USD, true
}
