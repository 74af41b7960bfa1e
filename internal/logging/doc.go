// Package logging builds the process-wide slog logger and provides typed
// attribute helpers plus standardized field keys so every component logs the
// same vocabulary (account_id, job_id, stage, correlation_id).
package logging
