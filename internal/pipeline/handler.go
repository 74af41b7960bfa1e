package pipeline

import (
	"context"
	"log/slog"

	"loom/internal/store"
)

// Task carries one leased job and its account into a stage handler.
type Task struct {
	Job     *store.Job
	Account *store.Account
	Logger  *slog.Logger

	// Report records progress on the job ledger and publishes a progress
	// event. Progress never moves backwards.
	Report func(percent float64, message string)

	// Result is the JSON payload persisted on successful completion.
	Result string
}

// Handler executes one job type. Implementations mutate task.Account with
// their outcomes; the worker engine persists those mutations, advances the
// lifecycle stage, and owns every ledger transition. Handlers communicate
// failure by returning errors wrapped with the services markers.
type Handler interface {
	JobType() store.JobType
	Execute(ctx context.Context, task *Task) error
}
