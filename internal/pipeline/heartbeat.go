package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"loom/internal/logging"
	"loom/internal/store"
)

// heartbeatMonitor refreshes lease heartbeats for running jobs. Stale lease
// reclamation lives in the scanner, which shares the heartbeat timeout.
type heartbeatMonitor struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
}

func (h *heartbeatMonitor) loop(ctx context.Context, jobID int64) {
	interval := h.interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.NewComponentLogger(h.logger, "heartbeat")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed",
					logging.Error(err),
					logging.Int64(logging.FieldJobID, jobID),
				)
			}
		}
	}
}
