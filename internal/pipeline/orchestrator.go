package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loom/internal/config"
	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/store"
)

// Orchestrator coordinates the job ledger: it runs per-stage worker pools,
// the dispatch surface, and the poll-fallback scanner.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	hub      *events.Hub
	notifier notifications.Service

	handlers   map[store.JobType]Handler
	dispatcher *Dispatcher
	scanner    *Scanner
	heartbeat  *heartbeatMonitor

	pollInterval  time.Duration
	errorInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// New constructs an orchestrator. Handlers are registered separately so
// tests can install fakes for individual stages.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, hub *events.Hub, notifier notifications.Service) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	o := &Orchestrator{
		cfg:           cfg,
		store:         st,
		logger:        logger,
		hub:           hub,
		notifier:      notifier,
		handlers:      make(map[store.JobType]Handler),
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeat: &heartbeatMonitor{
			store:    st,
			logger:   logger,
			interval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		},
	}
	o.dispatcher = NewDispatcher(cfg, st, logger, hub)
	o.scanner = NewScanner(cfg, st, o.dispatcher, logger)
	return o
}

// Register installs a stage handler. Registering the same job type twice
// replaces the previous handler.
func (o *Orchestrator) Register(handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[handler.JobType()] = handler
}

// Dispatcher exposes the request surface for the daemon API.
func (o *Orchestrator) Dispatcher() *Dispatcher {
	return o.dispatcher
}

// Scanner exposes the poll-fallback scanner, mainly for tests and the
// daemon status surface.
func (o *Orchestrator) Scanner() *Scanner {
	return o.scanner
}

// Start launches the worker pools and the scanner loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("pipeline already running")
	}
	if len(o.handlers) == 0 {
		return errors.New("no stage handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	for jobType, handler := range o.handlers {
		stageCfg := o.cfg.StageFor(string(jobType))
		concurrency := stageCfg.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		for i := 0; i < concurrency; i++ {
			o.wg.Add(1)
			go o.runWorker(runCtx, jobType, handler, i)
		}
	}

	o.wg.Add(1)
	go o.runScanner(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight work to
// wind down.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// Running reports whether the orchestrator has been started.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastError returns the most recent background failure, if any.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) runScanner(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	logger := logging.NewComponentLogger(o.logger, "scanner")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := o.scanner.Tick(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				o.setLastError(err)
				logger.Error("scanner tick failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "scan_failed"),
				)
				continue
			}
			if stats.Enqueued > 0 || stats.Reclaimed > 0 || stats.Pruned > 0 {
				logger.Info("scanner tick",
					logging.Int("enqueued", stats.Enqueued),
					logging.Int("reclaimed", stats.Reclaimed),
					logging.Int("failed_stale", stats.FailedStale),
					logging.Int64("pruned", stats.Pruned),
				)
			}
		}
	}
}

func (o *Orchestrator) stagePolicy(jobType store.JobType) stagePolicy {
	stageCfg := o.cfg.StageFor(string(jobType))
	return stagePolicy{
		maxRetries:   stageCfg.MaxRetries,
		backoffBase:  time.Duration(stageCfg.BackoffBaseMs) * time.Millisecond,
		backoffCap:   time.Duration(stageCfg.BackoffCapMs) * time.Millisecond,
		conflictWait: time.Duration(stageCfg.ConflictWaitMs) * time.Millisecond,
	}
}

type stagePolicy struct {
	maxRetries   int
	backoffBase  time.Duration
	backoffCap   time.Duration
	conflictWait time.Duration
}

func (o *Orchestrator) workerLogger(jobType store.JobType, slot int) *slog.Logger {
	return logging.NewComponentLogger(o.logger, fmt.Sprintf("worker-%s-%d", jobType, slot))
}
