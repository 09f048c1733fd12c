package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/justapithecus/prospector/token"
)

type rateLimitResponse struct {
	Rate struct {
		Remaining int   `json:"remaining"`
		Limit     int   `json:"limit"`
		Reset     int64 `json:"reset"`
	} `json:"rate"`
}

// CheckQuota probes the rate-limit status endpoint for one token.
// It bypasses the pooled rate discipline deliberately: this call is how the
// pool learns about quota, so it must not recurse into quota waiting.
// Implements token.QuotaChecker.
func (c *Client) CheckQuota(ctx context.Context, tok string) (token.QuotaStatus, error) {
	u := c.config.BaseURL + "/rate_limit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return token.QuotaStatus{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "token "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return token.QuotaStatus{}, fmt.Errorf("quota check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return token.QuotaStatus{}, &StatusError{StatusCode: resp.StatusCode, URL: u}
	}

	var body rateLimitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return token.QuotaStatus{}, fmt.Errorf("decode quota response: %w", err)
	}

	return token.QuotaStatus{
		Remaining: body.Rate.Remaining,
		Limit:     body.Rate.Limit,
		ResetAt:   time.Unix(body.Rate.Reset, 0),
	}, nil
}

// Verify Client implements the pool's checker interface.
var _ token.QuotaChecker = (*Client)(nil)
