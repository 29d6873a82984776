package sqlite

import (
	"context"
	"database/sql"
	"errors"

	raskol "github.com/eugener/raskol/internal"
)

// AddTokens accumulates tokens for (uid, date) in a single upsert, so
// concurrent additions for the same key never lose an increment.
func (s *Store) AddTokens(ctx context.Context, uid, date string, tokens uint64) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO tokens (uid, date, total) VALUES (?, ?, ?)
		 ON CONFLICT (uid, date) DO UPDATE SET total = total + excluded.total`,
		uid, date, tokens,
	)
	return mapErr(err)
}

// TokensOn returns the recorded total for (uid, date); missing days are zero.
func (s *Store) TokensOn(ctx context.Context, uid, date string) (uint64, error) {
	var total uint64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total), 0) FROM tokens WHERE uid = ? AND date = ?`,
		uid, date,
	).Scan(&total)
	return total, mapErr(err)
}

// StatsFor returns the accounting view of one uid: hit counters plus
// per-day token totals in descending date order.
func (s *Store) StatsFor(ctx context.Context, uid, today string) (*raskol.UserStats, error) {
	stats := &raskol.UserStats{UID: uid, PerDay: []raskol.DayTotal{}}

	err := s.read.QueryRowContext(ctx,
		`SELECT count_of_all, time_of_last FROM hits WHERE uid = ?`, uid,
	).Scan(&stats.HitCount, &stats.LastHitTime)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapErr(err)
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT date, total FROM tokens WHERE uid = ? ORDER BY date DESC`, uid,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var d raskol.DayTotal
		if err := rows.Scan(&d.Date, &d.Total); err != nil {
			return nil, err
		}
		if d.Date == today {
			stats.TodayTokens = d.Total
		}
		stats.PerDay = append(stats.PerDay, d)
	}
	return stats, rows.Err()
}

// TotalStats returns the StatsFor shape for every uid known to the
// store. Hits are the authoritative uid set: a uid cannot accumulate
// tokens without first passing admission.
func (s *Store) TotalStats(ctx context.Context, today string) ([]raskol.UserStats, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT uid, count_of_all, time_of_last FROM hits ORDER BY uid`,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []raskol.UserStats
	byUID := map[string]int{}
	for rows.Next() {
		var st raskol.UserStats
		if err := rows.Scan(&st.UID, &st.HitCount, &st.LastHitTime); err != nil {
			return nil, err
		}
		st.PerDay = []raskol.DayTotal{}
		byUID[st.UID] = len(out)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tokenRows, err := s.read.QueryContext(ctx,
		`SELECT uid, date, total FROM tokens ORDER BY uid, date DESC`,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tokenRows.Close()

	for tokenRows.Next() {
		var uid string
		var d raskol.DayTotal
		if err := tokenRows.Scan(&uid, &d.Date, &d.Total); err != nil {
			return nil, err
		}
		i, ok := byUID[uid]
		if !ok {
			continue
		}
		if d.Date == today {
			out[i].TodayTokens = d.Total
		}
		out[i].PerDay = append(out[i].PerDay, d)
	}
	return out, tokenRows.Err()
}
