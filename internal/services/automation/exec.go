package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/services"
)

var commandContext = exec.CommandContext

const (
	lockFileName       = "profile.lock"
	credentialRelPath  = "captured/credentials.json"
	credentialPollStep = 500 * time.Millisecond
)

// ExecDriver drives a real browser binary on locked account profiles.
type ExecDriver struct {
	binary          string
	headless        bool
	navigateTimeout time.Duration
}

var _ Driver = (*ExecDriver)(nil)

// NewExecDriver constructs a driver from configuration.
func NewExecDriver(cfg *config.Config) (*ExecDriver, error) {
	binary := strings.TrimSpace(cfg.Automation.BrowserPath)
	if binary == "" {
		return nil, errors.New("browser path required")
	}
	navTimeout := time.Duration(cfg.Automation.NavigateTimeout) * time.Second
	if navTimeout <= 0 {
		navTimeout = time.Minute
	}
	return &ExecDriver{
		binary:          binary,
		headless:        cfg.Automation.Headless,
		navigateTimeout: navTimeout,
	}, nil
}

// OpenSession acquires the profile lock and returns a session bound to it.
// A held lock means another worker is using the profile; that surfaces as a
// conflict error so the caller can retry after a short delay.
func (d *ExecDriver) OpenSession(ctx context.Context, profilePath string, visible bool) (Session, error) {
	profilePath = strings.TrimSpace(profilePath)
	if profilePath == "" {
		return nil, services.Wrap(services.ErrValidation, "automation", "open-session", "profile path required", nil)
	}
	if err := os.MkdirAll(profilePath, 0o755); err != nil {
		return nil, services.Wrap(services.ErrAutomation, "automation", "open-session", "create profile dir", err)
	}

	lock := flock.New(filepath.Join(profilePath, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrAutomation, "automation", "open-session", "acquire profile lock", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConflict, "automation", "open-session",
			fmt.Sprintf("profile %s is in use", profilePath), nil)
	}

	return &execSession{
		driver:      d,
		profilePath: profilePath,
		visible:     visible,
		lock:        lock,
	}, nil
}

type execSession struct {
	driver      *ExecDriver
	profilePath string
	visible     bool
	lock        *flock.Flock

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

func (s *execSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return services.Wrap(services.ErrAutomation, "automation", "navigate", "session is closed", nil)
	}
	if err := s.stopBrowserLocked(); err != nil {
		return err
	}

	args := []string{
		"--user-data-dir=" + s.profilePath,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if ext := extensionDir(s.profilePath); dirExists(ext) {
		args = append(args, "--load-extension="+ext)
	}
	if !s.visible && s.driver.headless {
		args = append(args, "--headless=new")
	}
	args = append(args, url)

	cmd := commandContext(ctx, s.driver.binary, args...) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrAutomation, "automation", "navigate", "start browser", err)
	}
	s.cmd = cmd
	return nil
}

// WaitForCredential polls the profile's capture file until every requested
// credential appears. Missing credentials at the deadline are an automation
// error so the stage retries; expired sessions show up later as an auth
// error from the provider exchange.
func (s *execSession) WaitForCredential(ctx context.Context, names []string, timeout time.Duration) ([]Credential, error) {
	if len(names) == 0 {
		return nil, services.Wrap(services.ErrValidation, "automation", "wait-credential", "no credential names requested", nil)
	}
	if timeout <= 0 {
		timeout = s.driver.navigateTimeout
	}
	deadline := time.Now().Add(timeout)
	capturePath := filepath.Join(s.profilePath, filepath.FromSlash(credentialRelPath))

	for {
		if creds, ok := readCredentials(capturePath, names); ok {
			return creds, nil
		}
		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrAutomation, "automation", "wait-credential",
				fmt.Sprintf("credentials %s not captured within %s", strings.Join(names, ","), timeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrAutomation, "automation", "wait-credential", "context cancelled", ctx.Err())
		case <-time.After(credentialPollStep):
		}
	}
}

// WaitForClose blocks until the browser process exits. The interactive login
// stage uses this: the operator closing the window signals the login is done.
func (s *execSession) WaitForClose(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		return services.Wrap(services.ErrAutomation, "automation", "wait-close", "context cancelled", ctx.Err())
	case err := <-done:
		s.mu.Lock()
		s.cmd = nil
		s.mu.Unlock()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return services.Wrap(services.ErrAutomation, "automation", "wait-close", "browser wait", err)
		}
		return nil
	}
}

func (s *execSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.stopBrowserLocked()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = services.Wrap(services.ErrAutomation, "automation", "close", "release profile lock", unlockErr)
	}
	return err
}

func (s *execSession) stopBrowserLocked() error {
	if s.cmd == nil || s.cmd.Process == nil {
		s.cmd = nil
		return nil
	}
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd = nil
	return nil
}

func readCredentials(path string, names []string) ([]Credential, bool) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, false
	}
	var captured []Credential
	if err := json.Unmarshal(data, &captured); err != nil {
		return nil, false
	}

	byName := make(map[string]Credential, len(captured))
	for _, cred := range captured {
		byName[cred.Name] = cred
	}
	out := make([]Credential, 0, len(names))
	for _, name := range names {
		cred, ok := byName[name]
		if !ok || strings.TrimSpace(cred.Value) == "" {
			return nil, false
		}
		out = append(out, cred)
	}
	return out, true
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
