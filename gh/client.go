// Package gh wraps the GitHub REST API surface the coordinator needs:
// paginated user search, per-account repository listing, and the rate-limit
// status endpoint backing the credential pool.
//
// Rate-limit discipline per request: every response carries a remaining-quota
// header. When remaining drops below the low-water mark, or the API answers
// 403/429, the client live-probes every pool credential, switches to the best
// healthy one, or sleeps until the earliest reset across the pool plus a
// safety buffer, then retries the same page. Only other non-2xx statuses
// surface to the caller, and those abort the current query alone.
package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/token"
)

const (
	// DefaultBaseURL is the GitHub REST API endpoint.
	DefaultBaseURL = "https://api.github.com"
	// ResultWindowCap is the API's hard limit on results retrievable
	// through pagination for any single search query.
	ResultWindowCap = 1000
	// DefaultPerPage is the page size for all paginated calls.
	DefaultPerPage = 100
	// DefaultLowWater is the remaining-quota threshold that triggers the
	// probe-then-wait-or-switch path before the next request.
	DefaultLowWater = 50
	// DefaultSafetyBuffer is added on top of the advertised reset time
	// before retrying.
	DefaultSafetyBuffer = 60 * time.Second
	// DefaultPageDelay is the fixed inter-page delay guarding against
	// secondary abuse-detection limits.
	DefaultPageDelay = time.Second
	// DefaultMaxQuotaWaits bounds how many probe-then-wait cycles one
	// request survives before it is abandoned as rate-limited.
	DefaultMaxQuotaWaits = 3
)

// Config configures the client. Zero values take the package defaults.
type Config struct {
	BaseURL       string
	HTTPTimeout   time.Duration
	PerPage       int
	LowWater      int
	SafetyBuffer  time.Duration
	PageDelay     time.Duration
	MaxQuotaWaits int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.PerPage <= 0 {
		c.PerPage = DefaultPerPage
	}
	if c.LowWater <= 0 {
		c.LowWater = DefaultLowWater
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = DefaultSafetyBuffer
	}
	if c.PageDelay <= 0 {
		c.PageDelay = DefaultPageDelay
	}
	if c.MaxQuotaWaits <= 0 {
		c.MaxQuotaWaits = DefaultMaxQuotaWaits
	}
	return c
}

// Client executes remote lookups using credentials from a token.Pool.
type Client struct {
	config     Config
	pool       *token.Pool
	httpClient *http.Client
	logger     *log.Logger
	collector  *metrics.Collector

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. The collector may be nil.
func NewClient(config Config, pool *token.Pool, logger *log.Logger, collector *metrics.Collector) *Client {
	config = config.withDefaults()
	return &Client{
		config:     config,
		pool:       pool,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		logger:     logger,
		collector:  collector,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// get executes one authenticated GET and decodes the JSON body into out.
// It owns the full rate-limit discipline: proactive low-water handling,
// reactive 403/429 handling, credential switching, and bounded quota waits.
func (c *Client) get(ctx context.Context, url string, out any) error {
	waits := 0
	for {
		cred := c.pool.Get(ctx, false)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("Authorization", "token "+cred.Token)

		c.collector.IncAPIRequest()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", url, err)
		}

		remaining := headerInt(resp, "X-RateLimit-Remaining", -1)
		limited := resp.StatusCode == http.StatusForbidden ||
			resp.StatusCode == http.StatusTooManyRequests ||
			(remaining >= 0 && remaining < c.config.LowWater)

		if limited {
			resp.Body.Close()
			if waits >= c.config.MaxQuotaWaits {
				return fmt.Errorf("%w (after %d waits)", ErrRateLimited, waits)
			}
			waits++
			if err := c.waitForQuota(ctx, cred, remaining); err != nil {
				return err
			}
			// Retry the same page with whatever the pool now ranks best.
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return fmt.Errorf("%s: %w", url, ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return &StatusError{StatusCode: resp.StatusCode, URL: url}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	}
}

// waitForQuota live-probes the pool. If a healthy credential exists the next
// Get picks it up from the refreshed cache; otherwise the client sleeps until
// the earliest reset across the pool plus the safety buffer.
func (c *Client) waitForQuota(ctx context.Context, current token.Credential, remaining int) error {
	statuses := c.pool.Statuses(ctx)

	best := 0
	for _, s := range statuses {
		if s.CheckErr == nil && s.Quota.Remaining > best {
			best = s.Quota.Remaining
		}
	}

	if best > c.config.LowWater {
		c.collector.IncCredentialSwitch()
		c.logger.Info("switching to healthier credential", map[string]any{
			"current_label":  current.Label,
			"best_remaining": best,
		})
		return nil
	}

	wait := c.config.SafetyBuffer
	if reset, ok := c.pool.EarliestReset(ctx); ok {
		if until := time.Until(reset); until > 0 {
			wait = until + c.config.SafetyBuffer
		}
	}

	c.collector.IncRateLimitWait()
	c.logger.Warn("all credentials low, waiting for earliest quota reset", map[string]any{
		"remaining": remaining,
		"wait":      wait.Round(time.Second).String(),
	})
	return c.sleep(ctx, wait)
}

func headerInt(resp *http.Response, key string, fallback int) int {
	v := resp.Header.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
