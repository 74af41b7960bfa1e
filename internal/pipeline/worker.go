package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
)

func (o *Orchestrator) runWorker(ctx context.Context, jobType store.JobType, handler Handler, slot int) {
	defer o.wg.Done()

	logger := o.workerLogger(jobType, slot)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := o.store.LeaseNext(ctx, jobType)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			o.setLastError(err)
			logger.Error("failed to lease next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lease_failed"),
				logging.String(logging.FieldErrorHint, "check ledger database access"),
			)
			if !sleepCtx(ctx, o.errorInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, o.pollInterval) {
				return
			}
			continue
		}

		if err := o.runJob(ctx, logger, handler, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// runJob confirms the lease and walks one job through execution. It is the
// single boundary where handler errors are classified and persisted; no
// error escapes to the lease loop unclassified.
func (o *Orchestrator) runJob(ctx context.Context, logger *slog.Logger, handler Handler, job *store.Job) error {
	confirmed, err := o.store.BeginProcessing(ctx, job.ID)
	if errors.Is(err, store.ErrAlreadyProcessing) {
		// Another worker won the lease; nothing to do.
		return nil
	}
	if errors.Is(err, store.ErrJobNotPending) {
		// Cancelled or finished between lease and confirmation.
		return nil
	}
	if err != nil {
		o.setLastError(err)
		return err
	}
	job = confirmed

	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	jobCtx := services.WithAccountID(ctx, job.AccountID)
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithJobType(jobCtx, string(job.Type))
	jobCtx = services.WithCorrelationID(jobCtx, correlationID)
	jobLogger := logging.WithContext(jobCtx, logger)

	account, err := o.store.AccountByID(jobCtx, job.AccountID)
	if err != nil {
		failErr := services.Wrap(services.ErrValidation, string(job.Type), "load-account", "account lookup failed", err)
		return o.finishFailed(jobCtx, jobLogger, job, nil, failErr)
	}

	if !store.StageAccepts(account.Stage, job.Type) {
		staleErr := services.Wrap(services.ErrStaleJob, string(job.Type), "stage-gate",
			fmt.Sprintf("account is at stage %s", account.Stage), nil)
		return o.finishFailed(jobCtx, jobLogger, job, account, staleErr)
	}

	jobLogger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String(logging.FieldStage, string(account.Stage)),
		logging.Int("retry_count", job.RetryCount),
	)

	task := &Task{
		Job:     job,
		Account: account,
		Logger:  jobLogger,
		Report:  o.progressReporter(jobCtx, job, correlationID),
	}

	start := time.Now()
	execErr := o.executeWithHeartbeat(jobCtx, handler, task)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			// Shutdown mid-run: leave the job processing so the stale
			// reclaimer returns it to the queue.
			jobLogger.Debug("job interrupted by shutdown")
			return execErr
		}
		return o.finishFailed(jobCtx, jobLogger, job, account, execErr)
	}

	return o.finishCompleted(jobCtx, jobLogger, job, account, task, correlationID, time.Since(start))
}

func (o *Orchestrator) executeWithHeartbeat(ctx context.Context, handler Handler, task *Task) (err error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.heartbeat.loop(hbCtx, task.Job.ID)
	}()
	defer func() {
		hbCancel()
		<-done
	}()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = services.Wrap(services.ErrAutomation, string(task.Job.Type), "execute",
				fmt.Sprintf("handler panic: %v", recovered), nil)
		}
	}()
	return handler.Execute(ctx, task)
}

func (o *Orchestrator) progressReporter(ctx context.Context, job *store.Job, correlationID string) func(float64, string) {
	return func(percent float64, message string) {
		if err := o.store.RecordProgress(ctx, job.ID, percent, message); err != nil {
			o.logger.Warn("record progress failed", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
			return
		}
		o.hub.Publish(events.Event{
			Type:          events.TypeJobProgress,
			JobID:         job.ID,
			AccountID:     job.AccountID,
			JobType:       string(job.Type),
			Progress:      percent,
			Message:       message,
			CorrelationID: correlationID,
		})
	}
}

// finishCompleted persists handler mutations, advances the lifecycle stage
// by exactly one step, clears the request marker, and publishes completion.
func (o *Orchestrator) finishCompleted(ctx context.Context, logger *slog.Logger, job *store.Job, account *store.Account, task *Task, correlationID string, elapsed time.Duration) error {
	completed, err := o.store.CompleteJob(ctx, job.ID, task.Result)
	if err != nil {
		o.setLastError(err)
		return err
	}
	if completed.Status != store.JobCompleted {
		// Cancelled while running; discard the result without touching the
		// account.
		logger.Info("job result discarded after cancellation",
			logging.String(logging.FieldEventType, "job_discarded"))
		return nil
	}

	// Persist only the handler-owned artifact fields; stage and status go
	// through their conditional updates below so a concurrent transition
	// still surfaces as ErrStageConflict.
	if err := o.store.SaveStageArtifacts(ctx, account); err != nil {
		o.setLastError(err)
		return err
	}

	next, ok := store.NextStage(account.Stage)
	if !ok {
		return fmt.Errorf("no successor for stage %s", account.Stage)
	}
	if err := o.store.AdvanceStage(ctx, account.ID, account.Stage, next); err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			logger.Warn("stage advance lost a race; leaving account untouched",
				logging.String(logging.FieldEventType, "stage_conflict"))
			return nil
		}
		o.setLastError(err)
		return err
	}
	if err := o.store.ClearRequested(ctx, account.ID, job.Type); err != nil {
		o.setLastError(err)
		return err
	}
	if err := o.store.SetAccountStatus(ctx, account.ID, store.AccountOK, ""); err != nil {
		o.setLastError(err)
		return err
	}

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String(logging.FieldStage, string(next)),
		logging.Duration("job_duration", elapsed),
	)
	o.hub.Publish(events.Event{
		Type:          events.TypeJobCompleted,
		JobID:         job.ID,
		AccountID:     account.ID,
		JobType:       string(job.Type),
		Stage:         string(next),
		Progress:      100,
		CorrelationID: correlationID,
	})
	o.hub.Publish(events.Event{
		Type:      events.TypeAccountUpdated,
		AccountID: account.ID,
		Stage:     string(next),
	})
	return nil
}

// finishFailed classifies the error, schedules a retry when the budget and
// taxonomy allow it, and otherwise lands the failure on the job and account.
func (o *Orchestrator) finishFailed(ctx context.Context, logger *slog.Logger, job *store.Job, account *store.Account, jobErr error) error {
	kind := services.Classify(jobErr)
	message := jobErr.Error()
	policy := o.stagePolicy(job.Type)

	if services.Retryable(jobErr) {
		delay := services.RetryDelay(jobErr, services.RetryPolicy{
			BackoffBase:  policy.backoffBase,
			BackoffCap:   policy.backoffCap,
			ConflictWait: policy.conflictWait,
		}, job.RetryCount+1)

		retried, err := o.store.RetryJob(ctx, job.ID, message, delay)
		switch {
		case err == nil:
			logger.Warn("job retry scheduled",
				logging.String(logging.FieldEventType, "job_retry"),
				logging.String(logging.FieldErrorKind, string(kind)),
				logging.Int("retry_count", retried.RetryCount),
				logging.Duration("retry_delay", delay),
				logging.Error(jobErr),
			)
			return jobErr
		case errors.Is(err, store.ErrJobNotProcessing):
			// Lease lost to cancellation or reclaim; nothing more to record.
			return jobErr
		case errors.Is(err, store.ErrRetriesExhausted):
			// Fall through to the terminal path.
		default:
			o.setLastError(err)
			return err
		}
	}

	if _, err := o.store.FailJob(ctx, job.ID, message); err != nil {
		o.setLastError(err)
		return err
	}

	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failure"),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(jobErr),
	)
	o.hub.Publish(events.Event{
		Type:      events.TypeJobFailed,
		JobID:     job.ID,
		AccountID: job.AccountID,
		JobType:   string(job.Type),
		Message:   message,
	})

	if account == nil {
		return jobErr
	}

	switch services.AccountDisposition(jobErr) {
	case services.DispositionBlocked:
		if err := o.store.SetAccountStatus(ctx, account.ID, store.AccountBlocked, message); err != nil {
			o.setLastError(err)
		}
		if err := o.notifier.NotifyAccountBlocked(ctx, account.Email, message); err != nil {
			logger.Debug("blocked notification failed", logging.Error(err))
		}
	case services.DispositionError:
		if err := o.store.SetAccountStatus(ctx, account.ID, store.AccountError, message); err != nil {
			o.setLastError(err)
		}
		if err := o.notifier.NotifyStageFailure(ctx, account.Email, string(job.Type), jobErr); err != nil {
			logger.Debug("failure notification failed", logging.Error(err))
		}
	case services.DispositionNone:
		// Internal consistency guard; the account is already where it
		// should be.
	}

	o.hub.Publish(events.Event{
		Type:      events.TypeAccountUpdated,
		AccountID: account.ID,
		Stage:     string(account.Stage),
	})
	return jobErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
