// Package storage defines persistence interfaces for the proxy.
package storage

import (
	"context"

	raskol "github.com/eugener/raskol/internal"
)

// HitStore records admission attempts per uid.
type HitStore interface {
	// RecordHit atomically upserts the hit row for uid: absent rows are
	// inserted as (uid, 1, now); present rows get count_of_all+1 and
	// time_of_last=now. It returns the pre-update values, (0, 0) for a
	// first hit.
	RecordHit(ctx context.Context, uid string, now int64) (prevCount uint64, prevTime int64, err error)
}

// TokenStore records upstream token consumption per uid per UTC day.
type TokenStore interface {
	// AddTokens upserts (uid, date): absent keys are inserted with
	// tokens; present keys accumulate. Atomic under concurrent calls
	// for the same key.
	AddTokens(ctx context.Context, uid, date string, tokens uint64) error
	// TokensOn returns the recorded total for (uid, date), zero when
	// the day is missing.
	TokensOn(ctx context.Context, uid, date string) (uint64, error)
}

// StatsStore exposes the accounting query surface.
type StatsStore interface {
	// StatsFor returns the uid's hit count, the total for today's UTC
	// date, and all (date, total) rows in descending date order.
	StatsFor(ctx context.Context, uid, today string) (*raskol.UserStats, error)
	// TotalStats returns StatsFor-shaped rows for every known uid.
	TotalStats(ctx context.Context, today string) ([]raskol.UserStats, error)
}

// Store combines all storage interfaces.
type Store interface {
	HitStore
	TokenStore
	StatsStore
	Ping(ctx context.Context) error
	Close() error
}
