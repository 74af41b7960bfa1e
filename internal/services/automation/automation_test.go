package automation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loom/internal/services"
	"loom/internal/testsupport"
)

func TestProvisionProfileWritesExtension(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "account-1")

	if err := ProvisionProfile(profile, []string{"__Secure-1PSID"}); err != nil {
		t.Fatalf("ProvisionProfile failed: %v", err)
	}

	manifest := filepath.Join(extensionDir(profile), "manifest.json")
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("expected manifest to exist: %v", err)
	}
	script, err := os.ReadFile(filepath.Join(extensionDir(profile), "capture.js"))
	if err != nil {
		t.Fatalf("read capture script: %v", err)
	}
	if !strings.Contains(string(script), "__Secure-1PSID") {
		t.Fatalf("expected cookie name embedded in capture script, got:\n%s", script)
	}

	// Re-provisioning an existing profile must not fail.
	if err := ProvisionProfile(profile, []string{"__Secure-1PSID"}); err != nil {
		t.Fatalf("second ProvisionProfile failed: %v", err)
	}
}

func TestOpenSessionRejectsBusyProfile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	driver, err := NewExecDriver(cfg)
	if err != nil {
		t.Fatalf("NewExecDriver failed: %v", err)
	}

	profile := filepath.Join(t.TempDir(), "busy")
	first, err := driver.OpenSession(context.Background(), profile, false)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer first.Close()

	_, err = driver.OpenSession(context.Background(), profile, false)
	if services.Classify(err) != services.KindConflict {
		t.Fatalf("expected conflict error for busy profile, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	second, err := driver.OpenSession(context.Background(), profile, false)
	if err != nil {
		t.Fatalf("OpenSession after release failed: %v", err)
	}
	_ = second.Close()
}

func TestWaitForCredentialReadsCaptureFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	driver, err := NewExecDriver(cfg)
	if err != nil {
		t.Fatalf("NewExecDriver failed: %v", err)
	}

	profile := filepath.Join(t.TempDir(), "capture")
	session, err := driver.OpenSession(context.Background(), profile, false)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer session.Close()

	captureDir := filepath.Join(profile, "captured")
	if err := os.MkdirAll(captureDir, 0o755); err != nil {
		t.Fatalf("mkdir captured: %v", err)
	}
	payload := `[{"name":"__Secure-1PSID","value":"secret"},{"name":"other","value":"x"}]`
	if err := os.WriteFile(filepath.Join(captureDir, "credentials.json"), []byte(payload), 0o644); err != nil {
		t.Fatalf("write capture file: %v", err)
	}

	creds, err := session.WaitForCredential(context.Background(), []string{"__Secure-1PSID"}, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForCredential failed: %v", err)
	}
	if len(creds) != 1 || creds[0].Value != "secret" {
		t.Fatalf("unexpected credentials: %#v", creds)
	}
}

func TestWaitForCredentialTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	driver, err := NewExecDriver(cfg)
	if err != nil {
		t.Fatalf("NewExecDriver failed: %v", err)
	}

	session, err := driver.OpenSession(context.Background(), filepath.Join(t.TempDir(), "empty"), false)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer session.Close()

	_, err = session.WaitForCredential(context.Background(), []string{"missing"}, 10*time.Millisecond)
	if services.Classify(err) != services.KindAutomation {
		t.Fatalf("expected automation error on timeout, got %v", err)
	}
}
