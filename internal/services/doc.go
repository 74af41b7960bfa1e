// Package services holds the failure taxonomy shared by stage handlers and
// the worker engine, plus context plumbing for structured logging.
//
// Every error that crosses the handler boundary carries exactly one sentinel
// marker (ErrTransient, ErrAuth, ErrAutomation, ErrValidation, ErrStaleJob,
// ErrConflict); the worker engine is the single place that classifies and
// persists those failures. Subpackages implement the external collaborators:
// automation (browser driver) and provider (generation API client).
package services
