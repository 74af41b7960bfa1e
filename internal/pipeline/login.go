package pipeline

import (
	"context"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/services"
	"loom/internal/services/automation"
	"loom/internal/store"
)

// LoginHandler opens a visible browser window on the account's profile at
// the provider's login page and waits for the operator to finish signing in.
// Closing the window signals completion; headless cookie extraction runs as
// the next stage.
type LoginHandler struct {
	cfg      *config.Config
	driver   automation.Driver
	notifier notifications.Service
}

// NewLoginHandler builds the interactive-login stage.
func NewLoginHandler(cfg *config.Config, driver automation.Driver, notifier notifications.Service) *LoginHandler {
	return &LoginHandler{cfg: cfg, driver: driver, notifier: notifier}
}

func (h *LoginHandler) JobType() store.JobType { return store.JobInteractiveLogin }

func (h *LoginHandler) Execute(ctx context.Context, task *Task) error {
	if task.Account.ProfilePath == "" {
		return services.Wrap(services.ErrValidation, "interactive-login", "execute", "account has no provisioned profile", nil)
	}

	session, err := h.driver.OpenSession(ctx, task.Account.ProfilePath, true)
	if err != nil {
		return err
	}
	defer session.Close()

	task.Report(10, "opening login window")
	if err := session.Navigate(ctx, h.cfg.Provider.LoginURL); err != nil {
		return err
	}

	if h.notifier != nil {
		if err := h.notifier.NotifyLoginRequired(ctx, task.Account.Email); err != nil {
			task.Logger.Debug("login notification failed", logging.Error(err))
		}
	}

	waitTimeout := time.Duration(h.cfg.Automation.LoginWaitTimeout) * time.Second
	waitCtx := ctx
	if waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	task.Report(30, "waiting for operator sign-in")
	if err := session.WaitForClose(waitCtx); err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Account.LoginCompletedAt = &now
	task.Report(90, "login window closed")
	task.Logger.Info("interactive login finished")
	return nil
}
