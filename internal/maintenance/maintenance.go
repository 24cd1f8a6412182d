// Package maintenance keeps the SQLite database in shape: it prunes old
// message logs, reclaims free pages and refreshes planner statistics.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"secretary/internal/config"
)

// Store is the part of the store the maintenance task needs.
type Store interface {
	PruneMessages(ctx context.Context, cutoff time.Time) (int64, error)
	DB() *sql.DB
}

// Result describes one maintenance run.
type Result struct {
	Duration        time.Duration `json:"duration"`
	MessagesPruned  int64         `json:"messages_pruned"`
	SizeBefore      int64         `json:"size_before"`
	SizeAfter       int64         `json:"size_after"`
	Vacuumed        bool          `json:"vacuumed"`
	IndexesAnalyzed bool          `json:"indexes_analyzed"`
}

// SpaceReclaimed returns the bytes freed by the run.
func (r Result) SpaceReclaimed() int64 {
	if r.SizeAfter >= r.SizeBefore {
		return 0
	}
	return r.SizeBefore - r.SizeAfter
}

// Task performs database maintenance.
type Task struct {
	store Store
	cfg   config.MaintenanceConfig
	now   func() time.Time
}

// New creates a maintenance task. now defaults to time.Now.
func New(st Store, cfg config.MaintenanceConfig, now func() time.Time) *Task {
	if now == nil {
		now = time.Now
	}
	return &Task{store: st, cfg: cfg, now: now}
}

// Run prunes messages past the retention period, vacuums when the file
// exceeds the threshold and optimizes indexes if configured.
func (t *Task) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	size, err := t.size(ctx)
	if err != nil {
		return result, fmt.Errorf("get database size: %w", err)
	}
	result.SizeBefore = size
	result.SizeAfter = size

	if t.cfg.MessageRetentionDays > 0 {
		cutoff := t.now().AddDate(0, 0, -t.cfg.MessageRetentionDays)
		n, err := t.store.PruneMessages(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("prune messages: %w", err)
		}
		result.MessagesPruned = n
		log.Printf("[Maintenance] Pruned %d messages older than %s", n, cutoff.Format(time.DateOnly))
	}

	// pruning frees pages without shrinking the file, so vacuum after it
	if size/(1024*1024) >= t.cfg.VacuumThresholdMB {
		if err := t.vacuum(ctx); err != nil {
			return result, err
		}
		result.Vacuumed = true
		if after, err := t.size(ctx); err == nil {
			result.SizeAfter = after
		}
	}

	if t.cfg.OptimizeIndexes {
		if err := t.optimize(ctx); err != nil {
			return result, err
		}
		result.IndexesAnalyzed = true
	}

	result.Duration = time.Since(start)
	log.Printf("[Maintenance] Completed in %v. Database size: %.1f MB, space reclaimed: %.1f MB",
		result.Duration.Round(time.Millisecond),
		float64(result.SizeAfter)/(1024*1024),
		float64(result.SpaceReclaimed())/(1024*1024))
	return result, nil
}

// Action adapts Run to a scheduler job.
func (t *Task) Action(ctx context.Context) error {
	_, err := t.Run(ctx)
	return err
}

// size reports the database size from SQLite's page accounting, which
// also works for in-memory databases.
func (t *Task) size(ctx context.Context) (int64, error) {
	var size int64
	err := t.store.DB().QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&size)
	return size, err
}

func (t *Task) vacuum(ctx context.Context) error {
	log.Println("[Maintenance] Starting VACUUM")
	if _, err := t.store.DB().ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (t *Task) optimize(ctx context.Context) error {
	if _, err := t.store.DB().ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if _, err := t.store.DB().ExecContext(ctx, "PRAGMA optimize"); err != nil {
		log.Printf("[Maintenance] Warning: PRAGMA optimize failed: %v", err)
	}
	return nil
}
