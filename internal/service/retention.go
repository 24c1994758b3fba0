package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/logger"
)

// Sweeper ages messages out in two phases: first a soft delete that blanks
// the body and leaves a tombstone, later a hard delete that removes the row.
// Both thresholds are measured from the message's original creation time.
type Sweeper struct {
	storage   RetentionStorage
	softAfter time.Duration
	hardAfter time.Duration
	batchSize int
	now       func() time.Time

	mu           sync.Mutex
	lastRunStats SweepStats
}

// SweepStats tracks metrics from the last sweep run.
type SweepStats struct {
	RunAt       time.Time
	SoftDeleted int
	HardDeleted int
	DurationMs  int64
}

// RetentionStorage defines the database operations needed for the sweep.
// Both calls are batched so a backlog never holds row locks for long.
type RetentionStorage interface {
	SoftDeleteMessages(cutoff time.Time, batch int) (int, error)
	HardDeleteMessages(cutoff time.Time, batch int) (int, error)
}

func NewSweeper(storage RetentionStorage, cfg config.Retention) (*Sweeper, error) {
	soft := cfg.SoftDeleteAfter * 24 * time.Hour
	hard := cfg.HardDeleteAfter * 24 * time.Hour
	if hard < soft {
		return nil, fmt.Errorf("hard delete threshold %v is shorter than soft delete threshold %v", hard, soft)
	}
	batch := cfg.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		storage:   storage,
		softAfter: soft,
		hardAfter: hard,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

// StartBackgroundSweep starts a background goroutine that runs the sweep
// periodically. It follows the same pattern as the broker poll loops.
func (s *Sweeper) StartBackgroundSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started retention sweeper",
		"component", "retention",
		"interval", interval,
		"soft_after", s.softAfter,
		"hard_after", s.hardAfter)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.RunSweep(); err != nil {
					logger.Log.Error("retention sweep failed",
						"component", "retention",
						"error", err)
				} else {
					stats := s.LastRunStats()
					logger.Log.Info("retention sweep completed",
						"component", "retention",
						"soft_deleted", stats.SoftDeleted,
						"hard_deleted", stats.HardDeleted,
						"duration_ms", stats.DurationMs)
				}
			case <-ctx.Done():
				logger.Log.Info("retention sweeper shutting down",
					"component", "retention")
				return
			}
		}
	}()
}

// RunSweep executes a single sweep cycle. Re-running against an already
// swept store is a no-op, so overlapping or manual runs are safe.
func (s *Sweeper) RunSweep() error {
	start := s.now()
	stats := SweepStats{RunAt: start}

	softCutoff := start.Add(-s.softAfter)
	for {
		n, err := s.storage.SoftDeleteMessages(softCutoff, s.batchSize)
		if err != nil {
			return fmt.Errorf("soft delete: %w", err)
		}
		stats.SoftDeleted += n
		if n < s.batchSize {
			break
		}
	}

	hardCutoff := start.Add(-s.hardAfter)
	for {
		n, err := s.storage.HardDeleteMessages(hardCutoff, s.batchSize)
		if err != nil {
			return fmt.Errorf("hard delete: %w", err)
		}
		stats.HardDeleted += n
		if n < s.batchSize {
			break
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()

	s.mu.Lock()
	s.lastRunStats = stats
	s.mu.Unlock()
	return nil
}

// LastRunStats returns statistics from the last sweep run.
func (s *Sweeper) LastRunStats() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunStats
}
