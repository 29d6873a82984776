package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordHit atomically bumps the hit row for uid and returns the
// pre-update values. The read-modify-write runs in one transaction on
// the single-connection writer, so two concurrent hits for the same uid
// serialize and each observes the other's committed time_of_last.
func (s *Store) RecordHit(ctx context.Context, uid string, now int64) (uint64, int64, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, mapErr(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prevCount uint64
	var prevTime int64
	err = tx.QueryRowContext(ctx,
		`SELECT count_of_all, time_of_last FROM hits WHERE uid = ?`, uid,
	).Scan(&prevCount, &prevTime)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hits (uid, count_of_all, time_of_last) VALUES (?, 1, ?)`,
			uid, now,
		); err != nil {
			return 0, 0, mapErr(err)
		}
	case err != nil:
		return 0, 0, mapErr(err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE hits SET count_of_all = count_of_all + 1, time_of_last = ? WHERE uid = ?`,
			now, uid,
		); err != nil {
			return 0, 0, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, mapErr(fmt.Errorf("record hit commit: %w", err))
	}
	return prevCount, prevTime, nil
}
