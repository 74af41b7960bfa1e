package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/deps"
	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/services"
	"loom/internal/store"
)

// Daemon coordinates the pipeline orchestrator and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	orch   *pipeline.Orchestrator
	hub    *events.Hub

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	Pipeline     PipelineStatus
	Ledger       store.HealthSummary
	Dependencies []deps.Status
}

// PipelineStatus summarizes orchestrator state for the status surface.
type PipelineStatus struct {
	Running   bool
	LastError string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, orch *pipeline.Orchestrator, hub *events.Hub) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || orch == nil {
		return nil, errors.New("daemon requires config, store, logger, and orchestrator")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "loomd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		orch:     orch,
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, launches the pipeline, and begins
// serving the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.orch.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.orch.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("loom daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.orch.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API listener address, empty before Start.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Events exposes the pipeline event hub for the API feed.
func (d *Daemon) Events() *events.Hub {
	return d.hub
}

// CreateAccount registers a new account at the start of the lifecycle.
func (d *Daemon) CreateAccount(ctx context.Context, email, displayName, credentialRef string) (*store.Account, error) {
	if strings.TrimSpace(email) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create account", "email is required", nil)
	}
	account, err := d.store.CreateAccount(ctx, email, displayName, credentialRef)
	if err != nil {
		return nil, err
	}
	d.logger.Info("account registered",
		logging.Int64(logging.FieldAccountID, account.ID),
		logging.String("email", account.Email))
	return account, nil
}

// ListAccounts returns all known accounts.
func (d *Daemon) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	return d.store.ListAccounts(ctx)
}

// Account returns one account by id.
func (d *Daemon) Account(ctx context.Context, id int64) (*store.Account, error) {
	return d.store.AccountByID(ctx, id)
}

// RequestStage enqueues lifecycle work for an account.
func (d *Daemon) RequestStage(ctx context.Context, accountID int64, jobType store.JobType, payloadJSON string) (*store.Job, error) {
	return d.orch.Dispatcher().RequestStage(ctx, accountID, jobType, payloadJSON)
}

// ListJobs returns ledger jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses ...store.JobStatus) ([]*store.Job, error) {
	return d.store.ListJobs(ctx, statuses...)
}

// Job returns one ledger job by id.
func (d *Daemon) Job(ctx context.Context, id int64) (*store.Job, error) {
	return d.store.JobByID(ctx, id)
}

// CancelJob cancels a pending or processing job.
func (d *Daemon) CancelJob(ctx context.Context, id int64) (*store.Job, error) {
	return d.store.CancelJob(ctx, id)
}

// RetryFailed resets failed jobs (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailedJobs(ctx, ids...)
}

// ClearJobs removes terminal jobs from the ledger.
func (d *Daemon) ClearJobs(ctx context.Context, statuses ...store.JobStatus) (int64, error) {
	return d.store.ClearJobs(ctx, statuses...)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Pipeline: PipelineStatus{
			Running: d.orch.Running(),
		},
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
	if err := d.orch.LastError(); err != nil {
		status.Pipeline.LastError = err.Error()
	}
	if summary, err := d.store.Health(ctx); err == nil && summary != nil {
		status.Ledger = *summary
	}
	return status
}
