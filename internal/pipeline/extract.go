package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"loom/internal/config"
	"loom/internal/services"
	"loom/internal/services/automation"
	"loom/internal/services/provider"
	"loom/internal/store"
)

// ExtractHandler runs a headless pass over the account's profile to capture
// the named session cookies, then exchanges them for a provider session
// token.
type ExtractHandler struct {
	cfg      *config.Config
	driver   automation.Driver
	provider provider.Service
}

// NewExtractHandler builds the extract-session stage.
func NewExtractHandler(cfg *config.Config, driver automation.Driver, providerSvc provider.Service) *ExtractHandler {
	return &ExtractHandler{cfg: cfg, driver: driver, provider: providerSvc}
}

func (h *ExtractHandler) JobType() store.JobType { return store.JobExtractSession }

func (h *ExtractHandler) Execute(ctx context.Context, task *Task) error {
	if task.Account.ProfilePath == "" {
		return services.Wrap(services.ErrValidation, "extract-session", "execute", "account has no provisioned profile", nil)
	}

	session, err := h.driver.OpenSession(ctx, task.Account.ProfilePath, false)
	if err != nil {
		return err
	}
	defer session.Close()

	task.Report(10, "opening headless session")
	if err := session.Navigate(ctx, h.cfg.Provider.LoginURL); err != nil {
		return err
	}

	task.Report(30, "capturing session cookies")
	navTimeout := time.Duration(h.cfg.Automation.NavigateTimeout) * time.Second
	creds, err := session.WaitForCredential(ctx, h.cfg.Provider.SessionCookieNames, navTimeout)
	if err != nil {
		return err
	}

	cookies := make([]provider.Cookie, 0, len(creds))
	for _, cred := range creds {
		cookies = append(cookies, provider.Cookie{Name: cred.Name, Value: cred.Value})
	}

	task.Report(60, "exchanging credentials")
	providerSession, err := h.provider.ExchangeCredential(ctx, cookies)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(cookies)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extract-session", "encode", "encode credential blob", err)
	}

	now := time.Now().UTC()
	task.Account.SessionToken = providerSession.Token
	task.Account.CredentialBlob = string(blob)
	task.Account.SessionExtractedAt = &now
	task.Report(90, "session established")
	task.Logger.Info("provider session established")
	return nil
}
