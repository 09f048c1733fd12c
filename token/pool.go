// Package token implements credential pool selection for the remote API.
//
// The pool holds a set of interchangeable access tokens and hands out the
// one with the highest known remaining quota. Quota status is cached for a
// short window to avoid hammering the remote status endpoint; when every
// token is exhausted (or every status probe fails) selection degrades to
// strict round-robin so callers always receive some credential.
//
// Workers each hold their own in-process pool backed by the same token set.
// There is no cross-process lock: two workers may pick the same token and
// both get rate-limited, and the system self-corrects on the next probe.
package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a quota probe result is trusted.
const DefaultCacheTTL = 60 * time.Second

// Credential is one access token plus a display label for logs.
type Credential struct {
	// Token is the secret. Never logged.
	Token string
	// Label identifies the credential in logs and status lines.
	Label string
}

// QuotaStatus is the remote status endpoint's view of one credential.
type QuotaStatus struct {
	// Remaining is the allowed request count before ResetAt.
	Remaining int
	// Limit is the credential's full quota.
	Limit int
	// ResetAt is when Remaining returns to Limit.
	ResetAt time.Time
}

// QuotaChecker probes the remote "check my quota" endpoint for one token.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, tok string) (QuotaStatus, error)
}

// CredentialStatus pairs a credential with its most recent quota view.
type CredentialStatus struct {
	Credential Credential
	Quota      QuotaStatus
	// CheckErr is the probe failure, if any. A failed probe ranks the
	// credential as having zero remaining quota.
	CheckErr error
}

type cachedQuota struct {
	status   QuotaStatus
	cachedAt time.Time
}

// Pool selects the best available credential on demand.
// Safe for concurrent callers.
type Pool struct {
	mu       sync.Mutex
	creds    []Credential
	checker  QuotaChecker
	cacheTTL time.Duration
	cache    map[string]cachedQuota
	rrIndex  int
	now      func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithCacheTTL overrides the quota cache window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pool) { p.cacheTTL = ttl }
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a credential pool. Zero credentials is a fatal
// configuration error; everything after construction is non-failing.
func NewPool(creds []Credential, checker QuotaChecker, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, errors.New("credential pool requires at least one token")
	}
	p := &Pool{
		creds:    creds,
		checker:  checker,
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]cachedQuota, len(creds)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Count returns the number of registered credentials.
func (p *Pool) Count() int {
	return len(p.creds)
}

// Get returns the credential with the highest known remaining quota.
// Quota views older than the cache TTL are re-probed; forceRefresh re-probes
// every credential first. When all credentials report zero remaining (or all
// probes fail) Get falls back to round-robin and still returns a credential.
func (p *Pool) Get(ctx context.Context, forceRefresh bool) Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := -1
	bestRemaining := 0
	for i, cred := range p.creds {
		status, err := p.quotaLocked(ctx, cred, forceRefresh)
		if err != nil {
			continue
		}
		if status.Remaining > bestRemaining {
			bestRemaining = status.Remaining
			best = i
		}
	}

	if best >= 0 {
		return p.creds[best]
	}

	// All exhausted or unknown: strict round-robin.
	cred := p.creds[p.rrIndex%len(p.creds)]
	p.rrIndex++
	return cred
}

// Statuses probes every credential live (bypassing the cache) and returns
// the results in registration order. Probe failures are recorded per
// credential, not propagated.
func (p *Pool) Statuses(ctx context.Context) []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CredentialStatus, 0, len(p.creds))
	for _, cred := range p.creds {
		status, err := p.quotaLocked(ctx, cred, true)
		out = append(out, CredentialStatus{Credential: cred, Quota: status, CheckErr: err})
	}
	return out
}

// EarliestReset returns the soonest quota reset time across the pool, using
// cached views where fresh. The second return is false when no credential
// has a known reset time.
func (p *Pool) EarliestReset(ctx context.Context) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var earliest time.Time
	found := false
	for _, cred := range p.creds {
		status, err := p.quotaLocked(ctx, cred, false)
		if err != nil || status.ResetAt.IsZero() {
			continue
		}
		if !found || status.ResetAt.Before(earliest) {
			earliest = status.ResetAt
			found = true
		}
	}
	return earliest, found
}

// quotaLocked returns the cached quota for cred, probing when the cache is
// stale or refresh is set. Callers hold p.mu.
func (p *Pool) quotaLocked(ctx context.Context, cred Credential, refresh bool) (QuotaStatus, error) {
	if !refresh {
		if entry, ok := p.cache[cred.Token]; ok && p.now().Sub(entry.cachedAt) < p.cacheTTL {
			return entry.status, nil
		}
	}

	status, err := p.checker.CheckQuota(ctx, cred.Token)
	if err != nil {
		// Rank as exhausted rather than failing selection.
		return QuotaStatus{}, err
	}

	p.cache[cred.Token] = cachedQuota{status: status, cachedAt: p.now()}
	return status, nil
}
