package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, type, status, account_id, payload_json, progress_percent, progress_message, retry_count, max_retries, next_attempt_at, result_json, error_message, correlation_id, created_at, started_at, completed_at, last_heartbeat"

// CreateJob inserts a pending job for an account. The job becomes leasable
// immediately (next_attempt_at = now).
func (s *Store) CreateJob(ctx context.Context, accountID int64, jobType JobType, payloadJSON, correlationID string, maxRetries int) (*Job, error) {
	if _, ok := ParseJobType(string(jobType)); !ok {
		return nil, fmt.Errorf("create job: unknown type %q", jobType)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            type, status, account_id, payload_json, progress_percent,
            retry_count, max_retries, next_attempt_at, correlation_id, created_at
        ) VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		jobType,
		JobPending,
		accountID,
		nullableString(payloadJSON),
		maxRetries,
		timestamp(now),
		nullableString(correlationID),
		timestamp(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.JobByID(ctx, id)
}

// JobByID fetches a job by identifier.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// InFlightJob returns the pending or processing job for an (account, type)
// pair, or nil when the slot is free. At most one such job exists at a time.
func (s *Store) InFlightJob(ctx context.Context, accountID int64, jobType JobType) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE account_id = ? AND type = ? AND status IN (?, ?)
         ORDER BY id LIMIT 1`,
		accountID, jobType, JobPending, JobProcessing,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("in-flight lookup: %w", err)
	}
	return job, nil
}

// LeaseNext returns the oldest pending job of a type whose backoff gate has
// passed, or nil when the queue is idle. The caller must confirm the lease
// with BeginProcessing before doing any work.
func (s *Store) LeaseNext(ctx context.Context, jobType JobType) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE type = ? AND status = ? AND next_attempt_at <= ?
         ORDER BY created_at, id LIMIT 1`,
		jobType, JobPending, timestamp(time.Now()),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease next: %w", err)
	}
	return job, nil
}

// BeginProcessing transitions a pending job to processing. This is the
// idempotency guard against double dispatch: a job that is already
// processing fails with ErrAlreadyProcessing and is left unchanged; any
// other non-pending status fails with ErrJobNotPending.
func (s *Store) BeginProcessing(ctx context.Context, id int64) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = ?, last_heartbeat = ?, progress_percent = 0, error_message = NULL
         WHERE id = ? AND status = ?`,
		JobProcessing, timestamp(now), timestamp(now), id, JobPending,
	)
	if err != nil {
		return nil, fmt.Errorf("begin processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		job, lookupErr := s.JobByID(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if job.Status == JobProcessing {
			return nil, ErrAlreadyProcessing
		}
		return job, fmt.Errorf("%w: job %d is %s", ErrJobNotPending, id, job.Status)
	}
	return s.JobByID(ctx, id)
}

// RecordProgress updates a processing job's progress. Progress is clamped to
// [0,100] and never moves backwards while the job is processing.
func (s *Store) RecordProgress(ctx context.Context, id int64, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress_percent = MAX(progress_percent, ?), progress_message = ?
         WHERE id = ? AND status = ?`,
		percent, nullableString(message), id, JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// CompleteJob finishes a processing job successfully. Completion of a job
// that is no longer processing (cancelled mid-run) is discarded without
// error; the worker wrapper relies on that to drop results of cancelled work.
func (s *Store) CompleteJob(ctx context.Context, id int64, resultJSON string) (*Job, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, result_json = ?, progress_percent = 100,
             completed_at = ?, last_heartbeat = NULL, error_message = NULL
         WHERE id = ? AND status = ?`,
		JobCompleted, nullableString(resultJSON), timestamp(now), id, JobProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return s.JobByID(ctx, id)
}

// RetryJob returns a processing job to pending for another attempt after the
// given delay, charging one retry against the budget. ErrRetriesExhausted is
// returned when no budget remains; ErrJobNotProcessing when the job left the
// processing state (the caller lost the lease).
func (s *Store) RetryJob(ctx context.Context, id int64, errorMessage string, delay time.Duration) (*Job, error) {
	if delay < 0 {
		delay = 0
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, retry_count = retry_count + 1, next_attempt_at = ?,
             error_message = ?, last_heartbeat = NULL, started_at = NULL
         WHERE id = ? AND status = ? AND retry_count < max_retries`,
		JobPending, timestamp(now.Add(delay)), nullableString(errorMessage), id, JobProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		job, lookupErr := s.JobByID(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if job.Status != JobProcessing {
			return job, ErrJobNotProcessing
		}
		return job, ErrRetriesExhausted
	}
	return s.JobByID(ctx, id)
}

// FailJob finishes a processing job terminally.
func (s *Store) FailJob(ctx context.Context, id int64, errorMessage string) (*Job, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, last_heartbeat = NULL
         WHERE id = ? AND status = ?`,
		JobFailed, nullableString(errorMessage), timestamp(now), id, JobProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	return s.JobByID(ctx, id)
}

// CancelJob marks a job cancelled. Cancellation is advisory: a pending job
// will never be leased again, while an already-running handler finishes and
// has its result discarded by the worker wrapper.
func (s *Store) CancelJob(ctx context.Context, id int64) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, last_heartbeat = NULL
         WHERE id = ? AND status IN (?, ?)`,
		JobCancelled, timestamp(now), id, JobPending, JobProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	job, lookupErr := s.JobByID(ctx, id)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if affected == 0 && !job.Status.IsTerminal() {
		return job, fmt.Errorf("cancel job: unexpected status %s", job.Status)
	}
	return job, nil
}

// UpdateJobHeartbeat refreshes the heartbeat timestamp for an in-flight job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ?`,
		timestamp(now), id, JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status
// is provided), newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at DESC, id DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobsByAccount returns all jobs for one account, newest first.
func (s *Store) JobsByAccount(ctx context.Context, accountID int64) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs by account: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		jobType         string
		status          string
		accountID       int64
		payload         sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		retryCount      int
		maxRetries      int
		nextAttemptRaw  sql.NullString
		result          sql.NullString
		errorMessage    sql.NullString
		correlationID   sql.NullString
		createdRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&status,
		&accountID,
		&payload,
		&progressPercent,
		&progressMessage,
		&retryCount,
		&maxRetries,
		&nextAttemptRaw,
		&result,
		&errorMessage,
		&correlationID,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Type:            JobType(jobType),
		Status:          JobStatus(status),
		AccountID:       accountID,
		PayloadJSON:     payload.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		RetryCount:      retryCount,
		MaxRetries:      maxRetries,
		ResultJSON:      result.String,
		ErrorMessage:    errorMessage.String,
		CorrelationID:   correlationID.String,
		StartedAt:       scanNullableTime(startedRaw),
		CompletedAt:     scanNullableTime(completedRaw),
		LastHeartbeat:   scanNullableTime(heartbeatRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if next, err := parseTimeString(nextAttemptRaw.String); err == nil {
		job.NextAttemptAt = next
	}
	return job, nil
}
