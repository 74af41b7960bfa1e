package automation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"loom/internal/services"
)

// Extension files installed into every provisioned profile. The capture
// extension watches the provider's cookies and mirrors the configured names
// into captured/credentials.json inside the profile directory.
const captureManifest = `{
  "manifest_version": 3,
  "name": "Loom Credential Capture",
  "version": "1.0",
  "permissions": ["cookies", "downloads"],
  "host_permissions": ["<all_urls>"],
  "background": {"service_worker": "capture.js"}
}
`

const captureScript = `const TARGETS = self.LOOM_COOKIE_NAMES || [];

async function snapshot() {
  const all = await chrome.cookies.getAll({});
  const hits = all.filter((c) => TARGETS.includes(c.name))
    .map((c) => ({ name: c.name, value: c.value }));
  if (hits.length === 0) return;
  const blob = new Blob([JSON.stringify(hits)], { type: "application/json" });
  const url = URL.createObjectURL(blob);
  chrome.downloads.download({
    url,
    filename: "captured/credentials.json",
    conflictAction: "overwrite",
  });
}

chrome.cookies.onChanged.addListener(snapshot);
chrome.runtime.onStartup.addListener(snapshot);
snapshot();
`

// ProvisionProfile creates a browser profile directory with the credential
// capture extension installed. It is idempotent: re-provisioning an existing
// profile refreshes the extension without touching browser state.
func ProvisionProfile(profilePath string, cookieNames []string) error {
	if profilePath == "" {
		return services.Wrap(services.ErrValidation, "provision-profile", "provision", "profile path required", nil)
	}

	dirs := []string{
		profilePath,
		filepath.Join(profilePath, "captured"),
		extensionDir(profilePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrAutomation, "provision-profile", "provision", "create profile dirs", err)
		}
	}

	names, err := json.Marshal(cookieNames)
	if err != nil {
		return services.Wrap(services.ErrValidation, "provision-profile", "provision", "encode cookie names", err)
	}
	script := fmt.Sprintf("self.LOOM_COOKIE_NAMES = %s;\n\n%s", names, captureScript)

	files := map[string]string{
		filepath.Join(extensionDir(profilePath), "manifest.json"): captureManifest,
		filepath.Join(extensionDir(profilePath), "capture.js"):    script,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return services.Wrap(services.ErrAutomation, "provision-profile", "provision", "write extension file", err)
		}
	}
	return nil
}

func extensionDir(profilePath string) string {
	return filepath.Join(profilePath, "loom-extension")
}
