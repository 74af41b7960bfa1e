package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
)

// Dispatcher is the triggered half of the dual-trigger dispatch: request
// handlers set the stage request marker and attempt an immediate enqueue.
// The poll-fallback scanner picks up markers whose enqueue was lost.
type Dispatcher struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
	hub    *events.Hub

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewDispatcher constructs the request surface.
func NewDispatcher(cfg *config.Config, st *store.Store, logger *slog.Logger, hub *events.Hub) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		cfg:    cfg,
		store:  st,
		logger: logging.NewComponentLogger(logger, "dispatcher"),
		hub:    hub,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// RequestStage records a stage request for an account and attempts an
// immediate enqueue. payloadJSON rides along on the created job; only
// generate-content reads it. The call is idempotent while a job for the
// same (account, type) pair is in flight: the existing job is returned and
// no new work is created. A blocked account accepts only a fresh
// interactive-login request, which rewinds its stage to profile-ready.
func (d *Dispatcher) RequestStage(ctx context.Context, accountID int64, jobType store.JobType, payloadJSON string) (*store.Job, error) {
	account, err := d.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Status == store.AccountBlocked {
		if jobType != store.JobInteractiveLogin {
			return nil, services.Wrap(services.ErrValidation, string(jobType), "dispatch",
				"account is blocked; request interactive-login to recover", nil)
		}
		if err := d.rewindForLogin(ctx, account); err != nil {
			return nil, err
		}
	}

	if !store.StageAccepts(account.Stage, jobType) {
		expected, _ := store.JobTypeForStage(account.Stage)
		return nil, services.Wrap(services.ErrValidation, string(jobType), "dispatch",
			fmt.Sprintf("account at stage %s expects %s", account.Stage, expected), nil)
	}

	if err := d.store.MarkRequested(ctx, account.ID, jobType, time.Now().UTC()); err != nil {
		return nil, err
	}

	job, created, err := d.ensureJob(ctx, account, jobType, payloadJSON)
	if err != nil {
		return nil, err
	}
	if created {
		d.logger.Info("stage requested",
			logging.Int64(logging.FieldAccountID, account.ID),
			logging.String(logging.FieldJobType, string(jobType)),
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "stage_requested"),
		)
	}
	return job, nil
}

// ensureJob enqueues a job for the pair unless one is already in flight.
// The per-account lock closes the check-then-create race between concurrent
// requests and the scanner: callers on the same account serialize here.
func (d *Dispatcher) ensureJob(ctx context.Context, account *store.Account, jobType store.JobType, payloadJSON string) (*store.Job, bool, error) {
	lock := d.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := d.store.InFlightJob(ctx, account.ID, jobType)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	maxRetries := d.cfg.StageFor(string(jobType)).MaxRetries
	job, err := d.store.CreateJob(ctx, account.ID, jobType, payloadJSON, uuid.NewString(), maxRetries)
	if err != nil {
		return nil, false, err
	}

	d.hub.Publish(events.Event{
		Type:      events.TypeAccountUpdated,
		AccountID: account.ID,
		Stage:     string(account.Stage),
		Message:   fmt.Sprintf("%s queued", jobType),
	})
	return job, true, nil
}

// rewindForLogin returns a blocked account to profile-ready so a fresh
// interactive-login cycle can run.
func (d *Dispatcher) rewindForLogin(ctx context.Context, account *store.Account) error {
	if account.Stage != store.StageProfileReady {
		if err := d.store.AdvanceStage(ctx, account.ID, account.Stage, store.StageProfileReady); err != nil {
			return err
		}
		account.Stage = store.StageProfileReady
	}
	if err := d.store.SetAccountStatus(ctx, account.ID, store.AccountOK, ""); err != nil {
		return err
	}
	account.Status = store.AccountOK
	return nil
}

func (d *Dispatcher) accountLock(accountID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[accountID] = lock
	}
	return lock
}
