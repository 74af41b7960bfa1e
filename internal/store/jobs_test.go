package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/store"
	"loom/internal/testsupport"
)

func TestCreateAndFetchJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-create@example.com")

	job, err := st.CreateJob(ctx, account.ID, store.JobProvisionProfile, `{"reason":"initial"}`, "corr-1", 3)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != store.JobPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}

	fetched, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if fetched.Type != store.JobProvisionProfile || fetched.CorrelationID != "corr-1" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	account := testsupport.NewAccount(t, st, "job-bad-type@example.com")
	if _, err := st.CreateJob(context.Background(), account.ID, store.JobType("mystery"), "", "", 3); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestBeginProcessingIsSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-begin@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)

	started, err := st.BeginProcessing(ctx, job.ID)
	if err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if started.Status != store.JobProcessing {
		t.Fatalf("expected processing status, got %s", started.Status)
	}
	if started.StartedAt == nil || started.LastHeartbeat == nil {
		t.Fatal("expected started_at and heartbeat to be set")
	}

	if _, err := st.BeginProcessing(ctx, job.ID); !errors.Is(err, store.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestBeginProcessingRejectsTerminalJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-terminal@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.CompleteJob(ctx, job.ID, ""); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if _, err := st.BeginProcessing(ctx, job.ID); !errors.Is(err, store.ErrJobNotPending) {
		t.Fatalf("expected ErrJobNotPending, got %v", err)
	}
}

func TestLeaseNextRespectsBackoffGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-lease@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobGenerateContent)

	leased, err := st.LeaseNext(ctx, store.JobGenerateContent)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if leased == nil || leased.ID != job.ID {
		t.Fatalf("expected job %d to be leasable, got %#v", job.ID, leased)
	}

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.RetryJob(ctx, job.ID, "transient failure", time.Hour); err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}

	leased, err = st.LeaseNext(ctx, store.JobGenerateContent)
	if err != nil {
		t.Fatalf("LeaseNext after retry failed: %v", err)
	}
	if leased != nil {
		t.Fatalf("expected no leasable job while backoff pending, got %#v", leased)
	}
}

func TestLeaseNextReturnsOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewAccount(t, st, "job-order-a@example.com")
	second := testsupport.NewAccount(t, st, "job-order-b@example.com")

	older := testsupport.NewJob(t, st, first.ID, store.JobProvisionProfile)
	testsupport.NewJob(t, st, second.ID, store.JobProvisionProfile)

	leased, err := st.LeaseNext(ctx, store.JobProvisionProfile)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if leased == nil || leased.ID != older.ID {
		t.Fatalf("expected oldest job %d, got %#v", older.ID, leased)
	}
}

func TestRetryJobExhaustsBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-retry@example.com")
	job, err := st.CreateJob(ctx, account.ID, store.JobProvisionProfile, "", "", 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	retried, err := st.RetryJob(ctx, job.ID, "first failure", 0)
	if err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	if retried.RetryCount != 1 || retried.Status != store.JobPending {
		t.Fatalf("unexpected retried job: %#v", retried)
	}

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("second BeginProcessing failed: %v", err)
	}
	if _, err := st.RetryJob(ctx, job.ID, "second failure", 0); !errors.Is(err, store.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestRecordProgressClampsAndNeverRegresses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-progress@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobGenerateContent)

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}

	if err := st.RecordProgress(ctx, job.ID, 60, "rendering"); err != nil {
		t.Fatalf("RecordProgress failed: %v", err)
	}
	if err := st.RecordProgress(ctx, job.ID, 30, "late update"); err != nil {
		t.Fatalf("RecordProgress regress failed: %v", err)
	}
	if err := st.RecordProgress(ctx, job.ID, 150, "overshoot"); err != nil {
		t.Fatalf("RecordProgress clamp failed: %v", err)
	}

	updated, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if updated.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %v", updated.ProgressPercent)
	}
}

func TestCompleteJobSetsTerminalFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-complete@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobExtractSession)

	if _, err := st.BeginProcessing(ctx, job.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	done, err := st.CompleteJob(ctx, job.ID, `{"token":"abc"}`)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if done.Status != store.JobCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %#v", done)
	}
	if done.ResultJSON != `{"token":"abc"}` || done.ProgressPercent != 100 {
		t.Fatalf("expected result and full progress, got %#v", done)
	}
}

func TestCancelPendingJobBlocksLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-cancel@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobCreateRemoteProject)

	cancelled, err := st.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if cancelled.Status != store.JobCancelled {
		t.Fatalf("expected cancelled job, got %s", cancelled.Status)
	}

	leased, err := st.LeaseNext(ctx, store.JobCreateRemoteProject)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if leased != nil {
		t.Fatalf("expected no leasable job after cancel, got %#v", leased)
	}
}

func TestInFlightJobFindsOccupiedSlot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-inflight@example.com")

	inFlight, err := st.InFlightJob(ctx, account.ID, store.JobProvisionProfile)
	if err != nil {
		t.Fatalf("InFlightJob failed: %v", err)
	}
	if inFlight != nil {
		t.Fatalf("expected free slot, got %#v", inFlight)
	}

	job := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)

	inFlight, err = st.InFlightJob(ctx, account.ID, store.JobProvisionProfile)
	if err != nil {
		t.Fatalf("InFlightJob after create failed: %v", err)
	}
	if inFlight == nil || inFlight.ID != job.ID {
		t.Fatalf("expected job %d in flight, got %#v", job.ID, inFlight)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-list@example.com")

	pending := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)
	running := testsupport.NewJob(t, st, account.ID, store.JobGenerateContent)
	if _, err := st.BeginProcessing(ctx, running.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}

	jobs, err := st.ListJobs(ctx, store.JobPending)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != pending.ID {
		t.Fatalf("expected pending job %d only, got %#v", pending.ID, jobs)
	}

	all, err := st.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs (all) failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
}

func TestReclaimStaleJobsRequeuesAndFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-stale@example.com")

	fresh := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)
	if _, err := st.BeginProcessing(ctx, fresh.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}

	// With a zero heartbeat timeout every processing job is stale.
	reclaimed, failed, err := st.ReclaimStaleJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != fresh.ID || len(failed) != 0 {
		t.Fatalf("expected job %d reclaimed, got reclaimed=%v failed=%v", fresh.ID, reclaimed, failed)
	}

	requeued, err := st.JobByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if requeued.Status != store.JobPending || requeued.RetryCount != 1 {
		t.Fatalf("unexpected requeued job: %#v", requeued)
	}

	exhausted, err := st.CreateJob(ctx, account.ID, store.JobGenerateContent, "", "", 0)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := st.BeginProcessing(ctx, exhausted.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	_, failed, err = st.ReclaimStaleJobs(ctx, 0)
	if err != nil {
		t.Fatalf("second ReclaimStaleJobs failed: %v", err)
	}
	found := false
	for _, id := range failed {
		if id == exhausted.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected job %d to fail terminally, got failed=%v", exhausted.ID, failed)
	}
}

func TestPruneTerminalJobsKeepsRecentRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-prune@example.com")

	done := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)
	if _, err := st.BeginProcessing(ctx, done.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.CompleteJob(ctx, done.ID, ""); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	removed, err := st.PruneTerminalJobs(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTerminalJobs failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected fresh terminal job to survive, removed %d", removed)
	}

	removed, err = st.PruneTerminalJobs(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("PruneTerminalJobs with past cutoff failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned job, removed %d", removed)
	}
}

func TestRetryFailedJobsResetsBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "retry-failed@example.com")

	first := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)
	if _, err := st.BeginProcessing(ctx, first.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.FailJob(ctx, first.ID, "browser crashed"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	second := testsupport.NewJob(t, st, account.ID, store.JobInteractiveLogin)
	if _, err := st.BeginProcessing(ctx, second.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.FailJob(ctx, second.ID, "timeout"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	affected, err := st.RetryFailedJobs(ctx, first.ID)
	if err != nil {
		t.Fatalf("RetryFailedJobs failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}

	reset, err := st.JobByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if reset.Status != store.JobPending || reset.RetryCount != 0 || reset.ErrorMessage != "" {
		t.Fatalf("unexpected reset job %#v", reset)
	}

	untouched, err := st.JobByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if untouched.Status != store.JobFailed {
		t.Fatalf("expected second job untouched, got %s", untouched.Status)
	}

	affected, err = st.RetryFailedJobs(ctx)
	if err != nil {
		t.Fatalf("RetryFailedJobs all failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected remaining failed job to reset, got %d", affected)
	}
}

func TestClearJobsRemovesOnlyTerminalRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "job-clear@example.com")

	completed := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)
	if _, err := st.BeginProcessing(ctx, completed.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.CompleteJob(ctx, completed.ID, ""); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	failed := testsupport.NewJob(t, st, account.ID, store.JobInteractiveLogin)
	if _, err := st.BeginProcessing(ctx, failed.ID); err != nil {
		t.Fatalf("BeginProcessing failed: %v", err)
	}
	if _, err := st.FailJob(ctx, failed.ID, "timeout"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	pending := testsupport.NewJob(t, st, account.ID, store.JobExtractSession)

	if _, err := st.ClearJobs(ctx, store.JobPending); err == nil {
		t.Fatal("expected non-terminal status to be rejected")
	}

	removed, err := st.ClearJobs(ctx, store.JobCompleted)
	if err != nil {
		t.Fatalf("ClearJobs completed failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 completed row removed, got %d", removed)
	}

	removed, err = st.ClearJobs(ctx)
	if err != nil {
		t.Fatalf("ClearJobs failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected remaining failed row removed, got %d", removed)
	}

	if _, err := st.JobByID(ctx, pending.ID); err != nil {
		t.Fatalf("expected pending job to survive clear: %v", err)
	}
}
