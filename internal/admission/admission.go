// Package admission decides whether a request may proceed to the
// upstream, based on the caller's hit history and daily token totals.
package admission

import (
	"context"
	"math"
	"time"

	raskol "github.com/eugener/raskol/internal"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Accept Decision = iota
	RejectRate
	RejectQuota
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case RejectRate:
		return "reject-rate"
	case RejectQuota:
		return "reject-quota"
	default:
		return "unknown"
	}
}

// Result carries the decision plus the data the HTTP layer renders.
type Result struct {
	Decision   Decision
	RetryAfter int64  // seconds until the next hit may be admitted (RejectRate)
	HitCount   uint64 // count_of_all after this attempt
}

// Store is the slice of the accounting store admission needs.
type Store interface {
	RecordHit(ctx context.Context, uid string, now int64) (prevCount uint64, prevTime int64, err error)
	TokensOn(ctx context.Context, uid, date string) (uint64, error)
}

// Controller runs the admission algorithm against a store with fixed limits.
type Controller struct {
	store  Store
	limits raskol.Limits
}

// New creates a Controller. Limits are immutable for the process lifetime.
func New(store Store, limits raskol.Limits) *Controller {
	return &Controller{store: store, limits: limits}
}

// Admit records a hit for uid and decides ACCEPT, REJECT-RATE, or
// REJECT-QUOTA. The hit counter update is retained on rejection: rate
// limited attempts still count as hits, which keeps backpressure
// visible and closes the busy-loop bypass. Recording the hit and
// reading the previous timestamp is one atomic store operation, so two
// concurrent requests from the same uid cannot both observe "last hit
// long enough ago".
func (c *Controller) Admit(ctx context.Context, uid string, now time.Time) (Result, error) {
	prevCount, prevTime, err := c.store.RecordHit(ctx, uid, now.Unix())
	if err != nil {
		return Result{}, err
	}
	res := Result{HitCount: prevCount + 1}

	if c.limits.MinHitInterval > 0 && prevTime != 0 {
		elapsed := float64(now.Unix() - prevTime)
		if elapsed < c.limits.MinHitInterval {
			res.Decision = RejectRate
			res.RetryAfter = int64(math.Ceil(c.limits.MinHitInterval - elapsed))
			return res, nil
		}
	}

	if c.limits.MaxTokensPerDay > 0 {
		today, err := c.store.TokensOn(ctx, uid, raskol.UTCDate(now))
		if err != nil {
			return Result{}, err
		}
		if today >= c.limits.MaxTokensPerDay {
			res.Decision = RejectQuota
			return res, nil
		}
	}

	res.Decision = Accept
	return res, nil
}
