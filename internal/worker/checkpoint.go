package worker

import (
	"context"
	"log/slog"
	"time"
)

const checkpointInterval = 5 * time.Minute

// CheckpointStore is the slice of the store the checkpointer needs.
type CheckpointStore interface {
	Checkpoint(ctx context.Context) error
}

// Checkpointer periodically truncates the SQLite WAL so the accounting
// database file stays bounded under sustained write load.
type Checkpointer struct {
	store    CheckpointStore
	interval time.Duration
}

// NewCheckpointer creates a Checkpointer. A non-positive interval falls
// back to the default.
func NewCheckpointer(store CheckpointStore, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = checkpointInterval
	}
	return &Checkpointer{store: store, interval: interval}
}

// Name returns the worker identifier.
func (c *Checkpointer) Name() string { return "wal_checkpoint" }

// Run checkpoints on a ticker until ctx is cancelled. Checkpoint
// failures are logged, not fatal: the WAL simply grows until the next
// successful pass.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.store.Checkpoint(ctx); err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "wal checkpoint failed",
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
