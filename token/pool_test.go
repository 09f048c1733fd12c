package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeChecker serves scripted quota statuses and counts probes per token.
type fakeChecker struct {
	statuses map[string]QuotaStatus
	errs     map[string]error
	probes   map[string]int
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		statuses: make(map[string]QuotaStatus),
		errs:     make(map[string]error),
		probes:   make(map[string]int),
	}
}

func (f *fakeChecker) CheckQuota(_ context.Context, tok string) (QuotaStatus, error) {
	f.probes[tok]++
	if err, ok := f.errs[tok]; ok {
		return QuotaStatus{}, err
	}
	return f.statuses[tok], nil
}

func TestNewPool_RequiresCredentials(t *testing.T) {
	if _, err := NewPool(nil, newFakeChecker()); err == nil {
		t.Fatal("NewPool(nil) did not error")
	}
}

func TestPool_GetPicksBestRemaining(t *testing.T) {
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 10, Limit: 5000}
	checker.statuses["tok-b"] = QuotaStatus{Remaining: 4800, Limit: 5000}
	checker.statuses["tok-c"] = QuotaStatus{Remaining: 300, Limit: 5000}

	p, err := NewPool([]Credential{
		{Token: "tok-a", Label: "a"},
		{Token: "tok-b", Label: "b"},
		{Token: "tok-c", Label: "c"},
	}, checker)
	if err != nil {
		t.Fatal(err)
	}

	if got := p.Get(context.Background(), false); got.Label != "b" {
		t.Errorf("Get picked %s, want b", got.Label)
	}
}

func TestPool_GetRoundRobinWhenExhausted(t *testing.T) {
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 0}
	checker.errs["tok-b"] = errors.New("probe failed")

	p, err := NewPool([]Credential{
		{Token: "tok-a", Label: "a"},
		{Token: "tok-b", Label: "b"},
	}, checker)
	if err != nil {
		t.Fatal(err)
	}

	first := p.Get(context.Background(), false)
	second := p.Get(context.Background(), false)
	third := p.Get(context.Background(), false)

	if first.Label != "a" || second.Label != "b" || third.Label != "a" {
		t.Errorf("round-robin order = %s,%s,%s, want a,b,a", first.Label, second.Label, third.Label)
	}
}

func TestPool_CachesWithinTTL(t *testing.T) {
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 100}

	clock := time.Now()
	p, err := NewPool(
		[]Credential{{Token: "tok-a", Label: "a"}},
		checker,
		WithCacheTTL(time.Minute),
		withClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatal(err)
	}

	p.Get(context.Background(), false)
	p.Get(context.Background(), false)
	if checker.probes["tok-a"] != 1 {
		t.Errorf("probes within TTL = %d, want 1", checker.probes["tok-a"])
	}

	clock = clock.Add(2 * time.Minute)
	p.Get(context.Background(), false)
	if checker.probes["tok-a"] != 2 {
		t.Errorf("probes after TTL = %d, want 2", checker.probes["tok-a"])
	}
}

func TestPool_ForceRefreshBypassesCache(t *testing.T) {
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 100}

	p, err := NewPool([]Credential{{Token: "tok-a", Label: "a"}}, checker)
	if err != nil {
		t.Fatal(err)
	}

	p.Get(context.Background(), false)
	p.Get(context.Background(), true)
	if checker.probes["tok-a"] != 2 {
		t.Errorf("probes = %d, want 2", checker.probes["tok-a"])
	}
}

func TestPool_StatusesRecordsProbeFailures(t *testing.T) {
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 42}
	checker.errs["tok-b"] = errors.New("unauthorized")

	p, err := NewPool([]Credential{
		{Token: "tok-a", Label: "a"},
		{Token: "tok-b", Label: "b"},
	}, checker)
	if err != nil {
		t.Fatal(err)
	}

	statuses := p.Statuses(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	if statuses[0].CheckErr != nil || statuses[0].Quota.Remaining != 42 {
		t.Errorf("status a = %+v, want remaining 42", statuses[0])
	}
	if statuses[1].CheckErr == nil {
		t.Error("status b has no CheckErr, want probe failure")
	}
	if statuses[1].Quota.Remaining != 0 {
		t.Errorf("failed probe remaining = %d, want 0", statuses[1].Quota.Remaining)
	}
}

func TestPool_EarliestReset(t *testing.T) {
	now := time.Now()
	checker := newFakeChecker()
	checker.statuses["tok-a"] = QuotaStatus{Remaining: 1, ResetAt: now.Add(30 * time.Minute)}
	checker.statuses["tok-b"] = QuotaStatus{Remaining: 1, ResetAt: now.Add(5 * time.Minute)}

	p, err := NewPool([]Credential{
		{Token: "tok-a", Label: "a"},
		{Token: "tok-b", Label: "b"},
	}, checker)
	if err != nil {
		t.Fatal(err)
	}

	reset, ok := p.EarliestReset(context.Background())
	if !ok {
		t.Fatal("EarliestReset found nothing")
	}
	if !reset.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("EarliestReset = %v, want %v", reset, now.Add(5*time.Minute))
	}
}

func TestPool_EarliestResetUnknown(t *testing.T) {
	checker := newFakeChecker()
	checker.errs["tok-a"] = errors.New("probe failed")

	p, err := NewPool([]Credential{{Token: "tok-a", Label: "a"}}, checker)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := p.EarliestReset(context.Background()); ok {
		t.Error("EarliestReset reported a reset time with no healthy probes")
	}
}
