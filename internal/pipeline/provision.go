package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services/automation"
	"loom/internal/store"
)

// ProvisionHandler prepares a dedicated browser profile for an account and
// installs the credential capture extension into it.
type ProvisionHandler struct {
	cfg *config.Config
}

// NewProvisionHandler builds the provision-profile stage.
func NewProvisionHandler(cfg *config.Config) *ProvisionHandler {
	return &ProvisionHandler{cfg: cfg}
}

func (h *ProvisionHandler) JobType() store.JobType { return store.JobProvisionProfile }

func (h *ProvisionHandler) Execute(ctx context.Context, task *Task) error {
	profilePath := filepath.Join(h.cfg.Paths.ProfilesDir, fmt.Sprintf("account-%d", task.Account.ID))

	task.Report(20, "creating browser profile")
	if err := automation.ProvisionProfile(profilePath, h.cfg.Provider.SessionCookieNames); err != nil {
		return err
	}

	task.Account.ProfilePath = profilePath
	task.Report(90, "profile provisioned")
	task.Logger.Info("browser profile provisioned", logging.String("profile_path", profilePath))
	return nil
}
