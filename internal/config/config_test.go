package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := (&cfg).Validate(); err == nil {
		// Defaults validate only after normalization expands paths; Load
		// covers that path below.
		t.Log("default config validated without normalization")
	}

	loaded, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file to report exists=false")
	}
	if loaded.Workflow.QueuePollInterval <= 0 {
		t.Fatal("expected default poll interval")
	}
	if loaded.Stages.InteractiveLogin.Concurrency != 1 {
		t.Fatalf("expected interactive login concurrency 1, got %d", loaded.Stages.InteractiveLogin.Concurrency)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
profiles_dir = "` + filepath.Join(dir, "profiles") + `"
output_dir = "` + filepath.Join(dir, "output") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[stages.generate_content]
concurrency = 8
max_retries = 5

[workflow]
queue_poll_interval = 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config resolved at %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Stages.GenerateContent.Concurrency != 8 {
		t.Fatalf("expected generate concurrency 8, got %d", cfg.Stages.GenerateContent.Concurrency)
	}
	if cfg.Stages.GenerateContent.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.Stages.GenerateContent.MaxRetries)
	}
	if cfg.Workflow.QueuePollInterval != 2 {
		t.Fatalf("expected poll interval 2, got %d", cfg.Workflow.QueuePollInterval)
	}
	// Untouched sections keep defaults.
	if cfg.Stages.ExtractSession.Concurrency != 1 {
		t.Fatalf("expected extract session concurrency 1, got %d", cfg.Stages.ExtractSession.Concurrency)
	}
}

func TestLoadRejectsParallelLogin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[stages.interactive_login]
concurrency = 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error for parallel interactive login")
	}
	if !strings.Contains(err.Error(), "interactive_login") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStageForFallsBack(t *testing.T) {
	cfg := config.Default()
	if got := cfg.StageFor("interactive-login"); got.Concurrency != 1 {
		t.Fatalf("unexpected stage tuning: %+v", got)
	}
	if got := cfg.StageFor("unknown-type"); got.Concurrency != cfg.Stages.GenerateContent.Concurrency {
		t.Fatalf("expected fallback to generate_content, got %+v", got)
	}
}
