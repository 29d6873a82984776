package admission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), 5.0)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAdmit_FirstHitAccepted(t *testing.T) {
	t.Parallel()

	c := New(newTestStore(t), raskol.Limits{MinHitInterval: 5, MaxTokensPerDay: 1000})
	res, err := c.Admit(context.Background(), "alice", time.Now())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Decision != Accept {
		t.Errorf("Decision = %v, want accept", res.Decision)
	}
	if res.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", res.HitCount)
	}
}

func TestAdmit_RateLimited(t *testing.T) {
	t.Parallel()

	c := New(newTestStore(t), raskol.Limits{MinHitInterval: 5})
	ctx := context.Background()
	now := time.Now()

	if _, err := c.Admit(ctx, "alice", now); err != nil {
		t.Fatal(err)
	}

	res, err := c.Admit(ctx, "alice", now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != RejectRate {
		t.Fatalf("Decision = %v, want reject-rate", res.Decision)
	}
	if res.RetryAfter != 4 {
		t.Errorf("RetryAfter = %d, want 4", res.RetryAfter)
	}
	// The rejected attempt still counted as a hit.
	if res.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", res.HitCount)
	}

	// After the interval passes, the next hit is admitted.
	res, err = c.Admit(ctx, "alice", now.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept {
		t.Errorf("Decision = %v, want accept after interval", res.Decision)
	}
	if res.HitCount != 3 {
		t.Errorf("HitCount = %d, want 3", res.HitCount)
	}
}

func TestAdmit_RejectedAttemptResetsClock(t *testing.T) {
	t.Parallel()

	c := New(newTestStore(t), raskol.Limits{MinHitInterval: 5})
	ctx := context.Background()
	now := time.Now()

	if _, err := c.Admit(ctx, "alice", now); err != nil {
		t.Fatal(err)
	}
	// Hammering every 4 seconds never gets through: each rejected
	// attempt updates time_of_last.
	for i := 1; i <= 3; i++ {
		res, err := c.Admit(ctx, "alice", now.Add(time.Duration(4*i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if res.Decision != RejectRate {
			t.Fatalf("attempt %d: Decision = %v, want reject-rate", i, res.Decision)
		}
	}
}

func TestAdmit_QuotaExceeded(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := New(store, raskol.Limits{MaxTokensPerDay: 100})
	ctx := context.Background()
	now := time.Now()

	if err := store.AddTokens(ctx, "alice", raskol.UTCDate(now), 100); err != nil {
		t.Fatal(err)
	}

	res, err := c.Admit(ctx, "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != RejectQuota {
		t.Errorf("Decision = %v, want reject-quota", res.Decision)
	}

	// A different uid is unaffected.
	res, err = c.Admit(ctx, "bob", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept {
		t.Errorf("bob Decision = %v, want accept", res.Decision)
	}
}

func TestAdmit_QuotaBoundary(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := New(store, raskol.Limits{MaxTokensPerDay: 100})
	ctx := context.Background()
	now := time.Now()

	// One below the limit is still admitted.
	if err := store.AddTokens(ctx, "alice", raskol.UTCDate(now), 99); err != nil {
		t.Fatal(err)
	}
	res, err := c.Admit(ctx, "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept {
		t.Errorf("Decision = %v, want accept at 99/100", res.Decision)
	}
}

func TestAdmit_QuotaIgnoresOtherDays(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := New(store, raskol.Limits{MaxTokensPerDay: 100})
	ctx := context.Background()
	now := time.Now()

	yesterday := raskol.UTCDate(now.Add(-24 * time.Hour))
	if err := store.AddTokens(ctx, "alice", yesterday, 10_000); err != nil {
		t.Fatal(err)
	}

	res, err := c.Admit(ctx, "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept {
		t.Errorf("Decision = %v, want accept on fresh day", res.Decision)
	}
}

func TestAdmit_ZeroLimitsUnlimited(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := New(store, raskol.Limits{})
	ctx := context.Background()
	now := time.Now()

	if err := store.AddTokens(ctx, "alice", raskol.UTCDate(now), 1_000_000_000); err != nil {
		t.Fatal(err)
	}

	// Back-to-back hits at the same instant, with a huge token total.
	for i := 0; i < 3; i++ {
		res, err := c.Admit(ctx, "alice", now)
		if err != nil {
			t.Fatal(err)
		}
		if res.Decision != Accept {
			t.Fatalf("attempt %d: Decision = %v, want accept", i, res.Decision)
		}
	}
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	cases := map[Decision]string{
		Accept:      "accept",
		RejectRate:  "reject-rate",
		RejectQuota: "reject-quota",
		Decision(9): "unknown",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}
