package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ProfilesDir string `toml:"profiles_dir"`
	OutputDir   string `toml:"output_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Provider contains configuration for the remote generation provider API.
type Provider struct {
	BaseURL            string   `toml:"base_url"`
	LoginURL           string   `toml:"login_url"`
	SessionCookieNames []string `toml:"session_cookie_names"`
	RequestTimeout     int      `toml:"request_timeout"`
	ImageModel         string   `toml:"image_model"`
	AspectRatio        string   `toml:"aspect_ratio"`
	ItemsPerPrompt     int      `toml:"items_per_prompt"`
}

// Automation contains configuration for the browser automation driver.
type Automation struct {
	BrowserPath      string `toml:"browser_path"`
	LoginWaitTimeout int    `toml:"login_wait_timeout"`
	NavigateTimeout  int    `toml:"navigate_timeout"`
	Headless         bool   `toml:"headless"`
}

// Stage contains per-job-type worker tuning.
type Stage struct {
	Concurrency    int `toml:"concurrency"`
	MaxRetries     int `toml:"max_retries"`
	BackoffBaseMs  int `toml:"backoff_base_ms"`
	BackoffCapMs   int `toml:"backoff_cap_ms"`
	ConflictWaitMs int `toml:"conflict_wait_ms"`
}

// Stages groups worker tuning per pipeline stage.
type Stages struct {
	ProvisionProfile    Stage `toml:"provision_profile"`
	InteractiveLogin    Stage `toml:"interactive_login"`
	ExtractSession      Stage `toml:"extract_session"`
	CreateRemoteProject Stage `toml:"create_remote_project"`
	GenerateContent     Stage `toml:"generate_content"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	StaleRequestGrace  int `toml:"stale_request_grace"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	JobRetentionHours  int `toml:"job_retention_hours"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	LoginRequired  bool   `toml:"login_required"`
	Blocked        bool   `toml:"blocked"`
	Generation     bool   `toml:"generation"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Loom.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Provider: remote generation API endpoints and generation defaults
//   - Automation: browser automation driver settings
//   - Stages: per-stage worker concurrency and retry policy
//   - Workflow: daemon polling intervals, grace periods, and retention
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Provider      Provider      `toml:"provider"`
	Automation    Automation    `toml:"automation"`
	Stages        Stages        `toml:"stages"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ProfilesDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageFor returns the worker tuning for a job type key. Unknown keys fall
// back to the generate_content settings.
func (c *Config) StageFor(jobType string) Stage {
	switch jobType {
	case "provision-profile":
		return c.Stages.ProvisionProfile
	case "interactive-login":
		return c.Stages.InteractiveLogin
	case "extract-session":
		return c.Stages.ExtractSession
	case "create-remote-project":
		return c.Stages.CreateRemoteProject
	default:
		return c.Stages.GenerateContent
	}
}

// WriteSample writes the embedded sample configuration to the target path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
