// Package polymarket is the client for the Polymarket Gamma market-data API.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// GammaClient is the REST client for the Gamma API, which serves market
// reference data.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// MarketByTokenID returns the market listing tokenID among its outcome
// tokens. It returns an error wrapping domain.ErrNotFound when the provider
// has no such market; any other error is worth retrying.
func (g *GammaClient) MarketByTokenID(ctx context.Context, tokenID string) (domain.MarketData, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("polymarket/gamma: market by token %s: %w", tokenID, err)
	}

	raw, err := firstRecord(body)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("polymarket/gamma: decode market for token %s: %w", tokenID, err)
	}
	if raw == nil {
		return domain.MarketData{}, fmt.Errorf("polymarket/gamma: %w: token=%s", domain.ErrNotFound, tokenID)
	}
	return NormalizeMarket(raw), nil
}

// firstRecord accepts a single object or a list of objects and returns the
// first one. nil means the response held no record.
func firstRecord(body []byte) (map[string]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	if body[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}
	var one map[string]json.RawMessage
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	if len(one) == 0 {
		return nil, nil
	}
	return one, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
