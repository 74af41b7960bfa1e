package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/services"
	"loom/internal/store"
	"loom/internal/testsupport"
)

type fakeHandler struct {
	jobType store.JobType
	mu      sync.Mutex
	calls   int
	fn      func(ctx context.Context, task *pipeline.Task, call int) error
}

func (f *fakeHandler) JobType() store.JobType { return f.jobType }

func (f *fakeHandler) Execute(ctx context.Context, task *pipeline.Task) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, task, call)
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	stages := []*config.Stage{
		&cfg.Stages.ProvisionProfile,
		&cfg.Stages.InteractiveLogin,
		&cfg.Stages.ExtractSession,
		&cfg.Stages.CreateRemoteProject,
		&cfg.Stages.GenerateContent,
	}
	for _, st := range stages {
		st.BackoffBaseMs = 1
		st.BackoffCapMs = 10
		st.ConflictWaitMs = 1
	}
	cfg.Workflow.StaleRequestGrace = 0
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, st *store.Store, handlers ...pipeline.Handler) *pipeline.Orchestrator {
	t.Helper()
	orch := pipeline.New(cfg, st, logging.NewNop(), events.NewHub(64), notifications.NewService(cfg))
	for _, h := range handlers {
		orch.Register(h)
	}
	return orch
}

func waitFor(t *testing.T, timeout time.Duration, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRequestStageCreatesJobAndMarker(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "dispatch@example.com")

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
	if err != nil {
		t.Fatalf("RequestStage failed: %v", err)
	}
	if job == nil || job.Status != store.JobPending {
		t.Fatalf("expected pending job, got %#v", job)
	}

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.RequestMarker(store.JobProvisionProfile) == nil {
		t.Fatal("expected request marker to be set")
	}
}

func TestRequestStageIdempotentWhileInFlight(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "idempotent@example.com")

	first, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
	if err != nil {
		t.Fatalf("first RequestStage failed: %v", err)
	}
	second, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
	if err != nil {
		t.Fatalf("second RequestStage failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the in-flight job back, got %d then %d", first.ID, second.ID)
	}

	jobs, err := st.ListJobs(ctx, store.JobPending, store.JobProcessing)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one in-flight job, got %d", len(jobs))
	}
}

func TestConcurrentRequestsCreateExactlyOneJob(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "race@example.com")

	const requesters = 8
	var wg sync.WaitGroup
	errs := make(chan error, requesters)
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RequestStage failed: %v", err)
		}
	}

	jobs, err := st.ListJobs(ctx, store.JobPending, store.JobProcessing)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one job from concurrent requests, got %d", len(jobs))
	}
}

func TestRequestStageRejectsWrongStage(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	account := testsupport.NewAccount(t, st, "wrong-stage@example.com")
	_, err := orch.Dispatcher().RequestStage(context.Background(), account.ID, store.JobGenerateContent, "")
	if services.Classify(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestStageRewindsBlockedAccountForLogin(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "blocked@example.com")
	if err := st.AdvanceStage(ctx, account.ID, store.StageNew, store.StageProfileReady); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}
	if err := st.AdvanceStage(ctx, account.ID, store.StageProfileReady, store.StageLoginComplete); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}
	if err := st.SetAccountStatus(ctx, account.ID, store.AccountBlocked, "session rejected"); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}

	if _, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobExtractSession, ""); err == nil {
		t.Fatal("expected blocked account to reject non-login request")
	}

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobInteractiveLogin, "")
	if err != nil {
		t.Fatalf("RequestStage login failed: %v", err)
	}
	if job.Type != store.JobInteractiveLogin {
		t.Fatalf("unexpected job: %#v", job)
	}

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.Stage != store.StageProfileReady || reloaded.Status != store.AccountOK {
		t.Fatalf("expected rewound ok account, got %#v", reloaded)
	}
}

func TestScannerSecondTickEnqueuesNothing(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "scanner@example.com")
	if err := st.MarkRequested(ctx, account.ID, store.JobProvisionProfile, time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}

	first, err := orch.Scanner().Tick(ctx)
	if err != nil {
		t.Fatalf("first Tick failed: %v", err)
	}
	if first.Enqueued != 1 {
		t.Fatalf("expected 1 enqueue on first tick, got %d", first.Enqueued)
	}

	second, err := orch.Scanner().Tick(ctx)
	if err != nil {
		t.Fatalf("second Tick failed: %v", err)
	}
	if second.Enqueued != 0 {
		t.Fatalf("expected 0 enqueues on unchanged second tick, got %d", second.Enqueued)
	}
}

func TestScannerRecoversOneAccountPerTick(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	older := testsupport.NewAccount(t, st, "starved@example.com")
	if err := st.MarkRequested(ctx, older.ID, store.JobProvisionProfile, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}
	newer := testsupport.NewAccount(t, st, "fresh@example.com")
	if err := st.MarkRequested(ctx, newer.ID, store.JobProvisionProfile, time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}

	stats, err := orch.Scanner().Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if stats.Enqueued != 1 {
		t.Fatalf("expected one recovery per tick, got %d", stats.Enqueued)
	}

	jobs, err := st.ListJobs(ctx, store.JobPending)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].AccountID != older.ID {
		t.Fatalf("expected one job for the oldest marker, got %#v", jobs)
	}

	stats, err = orch.Scanner().Tick(ctx)
	if err != nil {
		t.Fatalf("second Tick failed: %v", err)
	}
	if stats.Enqueued != 1 {
		t.Fatalf("expected the remaining account on the next tick, got %d", stats.Enqueued)
	}
}

func TestScannerClearsMarkersForPassedStages(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "leftover@example.com")
	if err := st.MarkRequested(ctx, account.ID, store.JobProvisionProfile, time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("MarkRequested failed: %v", err)
	}
	if err := st.AdvanceStage(ctx, account.ID, store.StageNew, store.StageProfileReady); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}

	if _, err := orch.Scanner().Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.RequestMarker(store.JobProvisionProfile) != nil {
		t.Fatal("expected stale provision marker to be cleared")
	}
}

func TestJobSuccessAdvancesStageOneStep(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	handler := &fakeHandler{jobType: store.JobProvisionProfile, fn: func(_ context.Context, task *pipeline.Task, _ int) error {
		task.Account.ProfilePath = "/tmp/profile"
		task.Report(50, "halfway")
		return nil
	}}
	orch := newOrchestrator(t, cfg, st, handler)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "success@example.com")
	if err := st.SetAccountStatus(ctx, account.ID, store.AccountError, "previous failure"); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
	if err != nil {
		t.Fatalf("RequestStage failed: %v", err)
	}

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer orch.Stop()

	waitFor(t, 10*time.Second, "job completion", func() bool {
		current, err := st.JobByID(ctx, job.ID)
		return err == nil && current.Status == store.JobCompleted
	})

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.Stage != store.StageProfileReady {
		t.Fatalf("expected stage profile-ready, got %s", reloaded.Stage)
	}
	if reloaded.Status != store.AccountOK || reloaded.LastError != "" {
		t.Fatalf("expected cleared error state, got %#v", reloaded)
	}
	if reloaded.RequestMarker(store.JobProvisionProfile) != nil {
		t.Fatal("expected request marker cleared after completion")
	}
	if reloaded.ProfilePath != "/tmp/profile" {
		t.Fatalf("expected handler mutation persisted, got %q", reloaded.ProfilePath)
	}
}

func TestAuthFailureBlocksAccountWithoutRetry(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	handler := &fakeHandler{jobType: store.JobInteractiveLogin, fn: func(context.Context, *pipeline.Task, int) error {
		return services.Wrap(services.ErrAuth, "interactive-login", "execute", "credential rejected", nil)
	}}
	orch := newOrchestrator(t, cfg, st, handler)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "auth-fail@example.com")
	if err := st.AdvanceStage(ctx, account.ID, store.StageNew, store.StageProfileReady); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobInteractiveLogin, "")
	if err != nil {
		t.Fatalf("RequestStage failed: %v", err)
	}

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer orch.Stop()

	waitFor(t, 10*time.Second, "job failure", func() bool {
		current, err := st.JobByID(ctx, job.ID)
		return err == nil && current.Status == store.JobFailed
	})

	failed, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if failed.RetryCount != 0 {
		t.Fatalf("expected no retries for auth failure, got %d", failed.RetryCount)
	}

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.Status != store.AccountBlocked {
		t.Fatalf("expected blocked account, got %s", reloaded.Status)
	}
	if reloaded.LastError == "" {
		t.Fatal("expected lastError to carry the classified message")
	}
	if reloaded.Stage != store.StageProfileReady {
		t.Fatalf("expected stage retained, got %s", reloaded.Stage)
	}
	if handler.callCount() != 1 {
		t.Fatalf("expected exactly one execution, got %d", handler.callCount())
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	handler := &fakeHandler{jobType: store.JobProvisionProfile, fn: func(_ context.Context, _ *pipeline.Task, call int) error {
		if call == 1 {
			return services.Wrap(services.ErrTransient, "provision-profile", "execute", "network blip", nil)
		}
		return nil
	}}
	orch := newOrchestrator(t, cfg, st, handler)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "transient@example.com")

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobProvisionProfile, "")
	if err != nil {
		t.Fatalf("RequestStage failed: %v", err)
	}

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer orch.Stop()

	waitFor(t, 15*time.Second, "retried job completion", func() bool {
		current, err := st.JobByID(ctx, job.ID)
		return err == nil && current.Status == store.JobCompleted
	})

	done, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if done.RetryCount != 1 {
		t.Fatalf("expected one retry, got %d", done.RetryCount)
	}
	if done.RetryCount > done.MaxRetries {
		t.Fatalf("retry count %d exceeded budget %d", done.RetryCount, done.MaxRetries)
	}
	if handler.callCount() != 2 {
		t.Fatalf("expected two executions, got %d", handler.callCount())
	}
}

func TestStaleJobFailsWithoutTouchingAccount(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	handler := &fakeHandler{jobType: store.JobProvisionProfile}
	orch := newOrchestrator(t, cfg, st, handler)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "stale@example.com")
	job := testsupport.NewJob(t, st, account.ID, store.JobProvisionProfile)

	// Advance past the job's stage before any worker runs it.
	if err := st.AdvanceStage(ctx, account.ID, store.StageNew, store.StageProfileReady); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer orch.Stop()

	waitFor(t, 10*time.Second, "stale job failure", func() bool {
		current, err := st.JobByID(ctx, job.ID)
		return err == nil && current.Status == store.JobFailed
	})

	reloaded, err := st.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if reloaded.Status != store.AccountOK {
		t.Fatalf("expected stale guard to leave account ok, got %s", reloaded.Status)
	}
	if handler.callCount() != 0 {
		t.Fatalf("expected handler never to run for stale job, got %d calls", handler.callCount())
	}
}

func TestGeneratingStageRepeats(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	ctx := context.Background()
	account := testsupport.NewAccount(t, st, "repeat@example.com")
	stages := []store.Stage{store.StageProfileReady, store.StageLoginComplete, store.StageSessionActive, store.StageProjectReady, store.StageGenerating}
	from := store.StageNew
	for _, to := range stages {
		if err := st.AdvanceStage(ctx, account.ID, from, to); err != nil {
			t.Fatalf("AdvanceStage to %s failed: %v", to, err)
		}
		from = to
	}

	job, err := orch.Dispatcher().RequestStage(ctx, account.ID, store.JobGenerateContent, `{"prompt":"sunrise"}`)
	if err != nil {
		t.Fatalf("RequestStage failed: %v", err)
	}
	if job.Type != store.JobGenerateContent {
		t.Fatalf("unexpected job: %#v", job)
	}
	if job.PayloadJSON != `{"prompt":"sunrise"}` {
		t.Fatalf("expected payload on job, got %q", job.PayloadJSON)
	}

	next, ok := store.NextStage(store.StageGenerating)
	if !ok || next != store.StageGenerating {
		t.Fatalf("expected generating to be its own successor, got %s", next)
	}
}

func TestStartRequiresHandlers(t *testing.T) {
	cfg := fastConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, st)

	if err := orch.Start(context.Background()); err == nil {
		orch.Stop()
		t.Fatal("expected Start to fail with no handlers registered")
	}
}
