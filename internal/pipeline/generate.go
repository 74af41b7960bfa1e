package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/services"
	"loom/internal/services/provider"
	"loom/internal/store"
)

// GeneratePayload is the job payload for a generate-content run.
type GeneratePayload struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count,omitempty"`
}

// GenerateResult is persisted as the job result after a successful run.
type GenerateResult struct {
	Prompt string   `json:"prompt"`
	Files  []string `json:"files"`
}

// GenerateHandler runs one content generation pass: token from the stored
// session, provider call, artifacts persisted to the output directory with
// deterministic filenames.
type GenerateHandler struct {
	cfg      *config.Config
	provider provider.Service
	notifier notifications.Service
}

// NewGenerateHandler builds the generate-content stage.
func NewGenerateHandler(cfg *config.Config, providerSvc provider.Service, notifier notifications.Service) *GenerateHandler {
	return &GenerateHandler{cfg: cfg, provider: providerSvc, notifier: notifier}
}

func (h *GenerateHandler) JobType() store.JobType { return store.JobGenerateContent }

func (h *GenerateHandler) Execute(ctx context.Context, task *Task) error {
	if task.Account.SessionToken == "" {
		return services.Wrap(services.ErrAuth, "generate-content", "execute", "account has no session token", nil)
	}
	if task.Account.RemoteProject == "" {
		return services.Wrap(services.ErrValidation, "generate-content", "execute", "account has no remote project", nil)
	}

	var payload GeneratePayload
	if raw := strings.TrimSpace(task.Job.PayloadJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return services.Wrap(services.ErrValidation, "generate-content", "decode", "malformed job payload", err)
		}
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "generate-content", "decode", "payload has no prompt", nil)
	}
	count := payload.Count
	if count <= 0 {
		count = h.cfg.Provider.ItemsPerPrompt
	}

	task.Report(10, "generation request accepted")
	task.Report(30, "submitting generation request")
	result, err := h.provider.GenerateContent(ctx, provider.GenerationRequest{
		SessionToken: task.Account.SessionToken,
		ProjectID:    task.Account.RemoteProject,
		Prompt:       payload.Prompt,
		Count:        count,
	})
	if err != nil {
		return err
	}
	task.Report(60, "items generated")

	outputDir := filepath.Join(h.cfg.Paths.OutputDir, fmt.Sprintf("account-%d", task.Account.ID))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "generate-content", "persist", "create output dir", err)
	}

	files := make([]string, 0, len(result.Items))
	for i, item := range result.Items {
		data, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return services.Wrap(services.ErrValidation, "generate-content", "persist",
				fmt.Sprintf("item %s is not valid base64", item.ID), err)
		}
		name := fmt.Sprintf("job-%d-%02d%s", task.Job.ID, i+1, extensionForMime(item.MimeType))
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return services.Wrap(services.ErrTransient, "generate-content", "persist", "write artifact", err)
		}
		files = append(files, path)
	}
	task.Report(90, "artifacts persisted")

	encoded, err := json.Marshal(GenerateResult{Prompt: payload.Prompt, Files: files})
	if err != nil {
		return services.Wrap(services.ErrValidation, "generate-content", "encode", "encode result", err)
	}
	task.Result = string(encoded)

	if h.notifier != nil {
		if err := h.notifier.NotifyGenerationComplete(ctx, task.Account.Email, len(files)); err != nil {
			task.Logger.Debug("generation notification failed", logging.Error(err))
		}
	}
	task.Logger.Info("content generated",
		logging.Int("items", len(files)),
		logging.String("output_dir", outputDir),
	)
	return nil
}

func extensionForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
