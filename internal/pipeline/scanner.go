package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/store"
)

// Scanner is the poll-fallback half of the dual-trigger dispatch. Each tick
// reclaims stale leases, prunes old terminal jobs, and enqueues work for
// accounts whose request markers never produced a job. Ticks are
// single-flight: a tick that starts while another is running returns
// immediately.
type Scanner struct {
	cfg        *config.Config
	store      *store.Store
	dispatcher *Dispatcher
	logger     *slog.Logger

	grace     time.Duration
	hbTimeout time.Duration
	retention time.Duration

	inFlight atomic.Bool
}

// ScanStats reports what one tick did.
type ScanStats struct {
	Skipped     bool
	Reclaimed   int
	FailedStale int
	Pruned      int64
	Enqueued    int
}

// NewScanner constructs the fallback scanner.
func NewScanner(cfg *config.Config, st *store.Store, dispatcher *Dispatcher, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		cfg:        cfg,
		store:      st,
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "scanner"),
		grace:      time.Duration(cfg.Workflow.StaleRequestGrace) * time.Second,
		hbTimeout:  time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		retention:  time.Duration(cfg.Workflow.JobRetentionHours) * time.Hour,
	}
}

// Tick runs one scan pass. A pass that observes no state change enqueues
// nothing, so back-to-back ticks are safe.
func (s *Scanner) Tick(ctx context.Context) (ScanStats, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ScanStats{Skipped: true}, nil
	}
	defer s.inFlight.Store(false)

	var stats ScanStats

	reclaimed, failed, err := s.store.ReclaimStaleJobs(ctx, s.hbTimeout)
	if err != nil {
		return stats, err
	}
	stats.Reclaimed = len(reclaimed)
	stats.FailedStale = len(failed)

	pruned, err := s.store.PruneTerminalJobs(ctx, s.retention)
	if err != nil {
		return stats, err
	}
	stats.Pruned = pruned

	enqueued, err := s.recoverRequests(ctx)
	if err != nil {
		return stats, err
	}
	stats.Enqueued = enqueued
	return stats, nil
}

// recoverRequests finds dispatchable accounts with request markers older
// than the grace period and ensures each has a job in flight. The grace
// period lets the triggered enqueue win; only lost requests reach this path.
func (s *Scanner) recoverRequests(ctx context.Context) (int, error) {
	accounts, err := s.store.AccountsWithRequests(ctx)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		account  *store.Account
		jobType  store.JobType
		markedAt time.Time
	}
	cutoff := time.Now().UTC().Add(-s.grace)

	var candidates []candidate
	for _, account := range accounts {
		jobType, ok := store.JobTypeForStage(account.Stage)
		if !ok {
			continue
		}

		// Markers for stages the account has moved past are leftovers from
		// requests that completed through another path; drop them.
		for _, markerType := range store.AllJobTypes() {
			marker := account.RequestMarker(markerType)
			if marker == nil || markerType == jobType {
				continue
			}
			if !store.StageAccepts(account.Stage, markerType) {
				if err := s.store.ClearRequested(ctx, account.ID, markerType); err != nil {
					return 0, err
				}
			}
		}

		marker := account.RequestMarker(jobType)
		if marker == nil || marker.After(cutoff) {
			continue
		}
		candidates = append(candidates, candidate{account: account, jobType: jobType, markedAt: *marker})
	}

	// Oldest request first, so starved accounts recover before fresh ones.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].markedAt.Before(candidates[j].markedAt)
	})

	// One recovery per tick; the remaining candidates wait for the next
	// pass so a backlog cannot flood the workers in a single sweep.
	enqueued := 0
	for _, c := range candidates {
		_, created, err := s.dispatcher.ensureJob(ctx, c.account, c.jobType, "")
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
			s.logger.Info("recovered lost stage request",
				logging.Int64(logging.FieldAccountID, c.account.ID),
				logging.String(logging.FieldJobType, string(c.jobType)),
				logging.Duration("request_age", time.Since(c.markedAt)),
				logging.String(logging.FieldEventType, "request_recovered"),
			)
			break
		}
	}
	return enqueued, nil
}
