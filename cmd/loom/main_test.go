package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"loom/internal/api"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	expected := []string{"status", "account", "stage", "job", "events", "daemon", "config", "test-notify"}
	for _, name := range expected {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %q subcommand", name)
		}
	}
}

func TestStageRequestRejectsUnknownStage(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"stage", "request", "1", "nonsense", "--config", writeTestConfig(t)})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
}

func TestStageRequestPromptOnlyForGeneration(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"stage", "request", "1", "provision-profile", "--prompt", "x", "--config", writeTestConfig(t)})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--prompt only applies") {
		t.Fatalf("expected prompt restriction error, got %v", err)
	}
}

func TestAccountListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.AccountListResponse{Accounts: []api.Account{
			{ID: 1, Email: "a@example.com", Stage: "new", Status: "ok"},
		}})
	}))
	defer server.Close()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs([]string{"account", "list", "--addr", server.URL, "--config", writeTestConfig(t)})
	root.SetOut(&out)
	root.SetErr(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out.String(), "a@example.com") {
		t.Fatalf("expected account email in output, got %q", out.String())
	}
}

func TestRenderJobsTableShowsRetries(t *testing.T) {
	rendered := renderJobsTable([]api.Job{{
		ID:         4,
		AccountID:  2,
		Type:       "extract-session",
		Status:     "failed",
		RetryCount: 2,
		MaxRetries: 3,
		Progress:   api.JobProgress{Percent: 60},
	}})
	if !strings.Contains(rendered, "2/3") || !strings.Contains(rendered, "Extract Session") {
		t.Fatalf("unexpected table output:\n%s", rendered)
	}
}
