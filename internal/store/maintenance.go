package store

import (
	"context"
	"fmt"
	"time"
)

// ReclaimStaleJobs returns processing jobs with no heartbeat inside the
// timeout to the pending state so another worker can pick them up. Each
// reclaim counts as one retry; jobs whose budget is spent fail terminally.
// It returns the identifiers of reclaimed and failed jobs.
func (s *Store) ReclaimStaleJobs(ctx context.Context, heartbeatTimeout time.Duration) (reclaimed, failed []int64, err error) {
	cutoff := timestamp(time.Now().UTC().Add(-heartbeatTimeout))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, retry_count, max_retries FROM jobs
         WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		JobProcessing, cutoff,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("find stale jobs: %w", err)
	}
	defer rows.Close()

	type staleJob struct {
		id         int64
		retryCount int
		maxRetries int
	}
	var stale []staleJob
	for rows.Next() {
		var sj staleJob
		if err := rows.Scan(&sj.id, &sj.retryCount, &sj.maxRetries); err != nil {
			return nil, nil, fmt.Errorf("scan stale job: %w", err)
		}
		stale = append(stale, sj)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	for _, sj := range stale {
		if sj.retryCount < sj.maxRetries {
			_, execErr := s.db.ExecContext(
				ctx,
				`UPDATE jobs SET status = ?, retry_count = retry_count + 1,
                     next_attempt_at = ?, started_at = NULL, last_heartbeat = NULL,
                     error_message = ?
                 WHERE id = ? AND status = ?`,
				JobPending, timestamp(now), "lease expired without heartbeat", sj.id, JobProcessing,
			)
			if execErr != nil {
				return reclaimed, failed, fmt.Errorf("reclaim job %d: %w", sj.id, execErr)
			}
			reclaimed = append(reclaimed, sj.id)
			continue
		}
		_, execErr := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, last_heartbeat = NULL,
                 error_message = ?
             WHERE id = ? AND status = ?`,
			JobFailed, timestamp(now), "lease expired and retries exhausted", sj.id, JobProcessing,
		)
		if execErr != nil {
			return reclaimed, failed, fmt.Errorf("fail stale job %d: %w", sj.id, execErr)
		}
		failed = append(failed, sj.id)
	}
	return reclaimed, failed, nil
}

// PruneTerminalJobs deletes completed, failed, and cancelled jobs older than
// the retention window and returns how many rows were removed.
func (s *Store) PruneTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := timestamp(time.Now().UTC().Add(-retention))
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		JobCompleted, JobFailed, JobCancelled, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune terminal jobs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

// RetryFailedJobs resets failed jobs (optionally a subset) back to pending
// with a fresh retry budget. It returns how many rows changed.
func (s *Store) RetryFailedJobs(ctx context.Context, ids ...int64) (int64, error) {
	now := timestamp(time.Now().UTC())
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, retry_count = 0, next_attempt_at = ?,
                 progress_percent = 0, progress_message = 'retry requested',
                 error_message = NULL, completed_at = NULL, last_heartbeat = NULL
             WHERE status = ?`,
			JobPending, now, JobFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, JobPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs
        SET status = ?, retry_count = 0, next_attempt_at = ?,
            progress_percent = 0, progress_message = 'retry requested',
            error_message = NULL, completed_at = NULL, last_heartbeat = NULL
        WHERE id IN (` + makePlaceholders(len(ids)) + `) AND status = '` + string(JobFailed) + `'`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearJobs deletes terminal jobs from the ledger. With no statuses it
// removes all completed, failed, and cancelled jobs; otherwise only the
// named terminal statuses. In-flight rows are never touched.
func (s *Store) ClearJobs(ctx context.Context, statuses ...JobStatus) (int64, error) {
	if len(statuses) == 0 {
		statuses = []JobStatus{JobCompleted, JobFailed, JobCancelled}
	}
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		if !status.IsTerminal() {
			return 0, fmt.Errorf("cannot clear jobs in non-terminal status %q", status)
		}
		args = append(args, status)
	}

	query := `DELETE FROM jobs WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

// Health returns aggregate ledger counts for the status surfaces.
func (s *Store) Health(ctx context.Context) (*HealthSummary, error) {
	summary := &HealthSummary{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		summary.TotalJobs += count
		switch JobStatus(status) {
		case JobPending:
			summary.Pending = count
		case JobProcessing:
			summary.Processing = count
		case JobCompleted:
			summary.Completed = count
		case JobFailed:
			summary.Failed = count
		case JobCancelled:
			summary.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	accountRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM accounts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("account counts: %w", err)
	}
	defer accountRows.Close()
	for accountRows.Next() {
		var status string
		var count int
		if err := accountRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan account count: %w", err)
		}
		summary.TotalAccounts += count
		switch AccountStatus(status) {
		case AccountBlocked:
			summary.BlockedAccount = count
		case AccountError:
			summary.ErrorAccount = count
		}
	}
	return summary, accountRows.Err()
}
