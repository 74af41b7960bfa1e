package pipeline

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/services/provider"
	"loom/internal/store"
)

// ProjectHandler provisions the remote workspace generation runs against.
type ProjectHandler struct {
	provider provider.Service
}

// NewProjectHandler builds the create-remote-project stage.
func NewProjectHandler(providerSvc provider.Service) *ProjectHandler {
	return &ProjectHandler{provider: providerSvc}
}

func (h *ProjectHandler) JobType() store.JobType { return store.JobCreateRemoteProject }

func (h *ProjectHandler) Execute(ctx context.Context, task *Task) error {
	if task.Account.SessionToken == "" {
		return services.Wrap(services.ErrAuth, "create-remote-project", "execute", "account has no session token", nil)
	}

	name := projectName(task.Account)
	task.Report(30, "creating remote project")
	project, err := h.provider.CreateRemoteProject(ctx, task.Account.SessionToken, name)
	if err != nil {
		return err
	}

	task.Account.RemoteProject = project.ID
	task.Report(90, "remote project ready")
	task.Logger.Info("remote project created",
		logging.String("project_id", project.ID),
		logging.String("project_name", project.Name),
	)
	return nil
}

func projectName(account *store.Account) string {
	local := account.Email
	if at := strings.IndexByte(local, '@'); at > 0 {
		local = local[:at]
	}
	return fmt.Sprintf("loom-%s-%d", local, account.ID)
}
