// Package automation drives a real browser on per-account profiles.
//
// Each profile directory is guarded by a file lock so at most one session
// touches it at a time; a held lock surfaces as a conflict error that clears
// after a short delay. Profiles are provisioned with a capture extension
// that mirrors the provider's session cookies into a JSON file the driver
// polls, which keeps the Go side free of any browser protocol dependency.
package automation
