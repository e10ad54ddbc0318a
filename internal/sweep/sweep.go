// Package sweep implements the scheduled archival job.
//
// Each run, in order:
//  1. Threads closed by the stopper (active=0) are archived.
//  2. On the main board, everything past the top 60 unarchived threads by
//     last activity is archived.
//  3. response_count is reconciled against the owning shard for threads
//     with 100+ responses, because the write path tolerates transient drift
//     between the counter update and the response insert.
//
// The job runs in-process on a cron schedule; it takes no locks beyond the
// statements themselves, so it is safe to run while writes continue.
package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgebb/edgebb/internal/logger"
)

// keepThreads is how many unarchived threads the main board retains.
const keepThreads = 60

// mainBoardID is the board the retention rule applies to.
const mainBoardID = 1

// Sweeper runs the archival sweep.
type Sweeper struct {
	meta   *sql.DB
	shards []*sql.DB
	cron   *cron.Cron
}

// New creates a sweeper over the metadata database and the shard handles in
// shard order.
func New(meta *sql.DB, shards []*sql.DB) *Sweeper {
	return &Sweeper{meta: meta, shards: shards}
}

// Start schedules the sweep. schedule is a cron expression ("@hourly",
// "17 3 * * *", ...).
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.Run(ctx); err != nil {
			logger.Sweep().Error().Err(err).Msg("archival sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Run executes one sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	log := logger.Sweep()
	start := time.Now()

	if _, err := s.meta.ExecContext(ctx,
		`UPDATE threads SET archived = 1 WHERE active = 0`); err != nil {
		return fmt.Errorf("failed to archive inactive threads: %w", err)
	}

	if _, err := s.meta.ExecContext(ctx, `
		UPDATE threads SET archived = 1, active = 0
		WHERE board_id = $1 AND thread_number IN (
			SELECT thread_number
			FROM threads WHERE board_id = $1 AND archived = 0
			ORDER BY CAST(last_modified AS BIGINT) DESC
			OFFSET $2
		)`, mainBoardID, keepThreads); err != nil {
		return fmt.Errorf("failed to archive overflow threads: %w", err)
	}

	reconciled, err := s.reconcileCounts(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("reconciled", reconciled).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("archival sweep finished")
	return nil
}

// reconcileCounts recounts big threads against their shard. Only threads
// claiming 100+ responses are checked; small drift on small threads is
// harmless and self-describing.
func (s *Sweeper) reconcileCounts(ctx context.Context) (int, error) {
	rows, err := s.meta.QueryContext(ctx, `
		SELECT board_id, thread_number, response_count, modulo
		FROM threads WHERE response_count >= 100`)
	if err != nil {
		return 0, fmt.Errorf("failed to list threads for reconciliation: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		boardID  int
		threadID string
		count    int
		modulo   int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.boardID, &c.threadID, &c.count, &c.modulo); err != nil {
			return 0, fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate reconciliation rows: %w", err)
	}

	reconciled := 0
	for _, c := range candidates {
		shard := s.shardFor(c.modulo)
		var actual int
		err := shard.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM responses WHERE board_id = $1 AND thread_id = $2`,
			c.boardID, c.threadID).Scan(&actual)
		if err != nil {
			return reconciled, fmt.Errorf("failed to count responses for thread %s: %w", c.threadID, err)
		}
		if actual == c.count || actual == 0 {
			continue
		}
		if _, err := s.meta.ExecContext(ctx,
			`UPDATE threads SET response_count = $1 WHERE board_id = $2 AND thread_number = $3`,
			actual, c.boardID, c.threadID); err != nil {
			return reconciled, fmt.Errorf("failed to reconcile thread %s: %w", c.threadID, err)
		}
		reconciled++
	}
	return reconciled, nil
}

func (s *Sweeper) shardFor(modulo int) *sql.DB {
	if modulo < 0 || modulo >= len(s.shards) {
		return s.shards[0]
	}
	return s.shards[modulo]
}
