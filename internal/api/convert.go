package api

import (
	"encoding/json"
	"time"

	"loom/internal/deps"
	"loom/internal/events"
	"loom/internal/store"
)

// FromAccount converts a store account to its API representation.
func FromAccount(account *store.Account) Account {
	if account == nil {
		return Account{}
	}

	dto := Account{
		ID:            account.ID,
		Email:         account.Email,
		DisplayName:   account.DisplayName,
		Stage:         string(account.Stage),
		Status:        string(account.Status),
		ProfilePath:   account.ProfilePath,
		HasSession:    account.SessionToken != "",
		RemoteProject: account.RemoteProject,
		LastError:     account.LastError,
		LastErrorAt:   FormatTimePtr(account.LastErrorAt),
		LoginAt:       FormatTimePtr(account.LoginCompletedAt),
		SessionAt:     FormatTimePtr(account.SessionExtractedAt),
		CreatedAt:     FormatTime(account.CreatedAt),
		UpdatedAt:     FormatTime(account.UpdatedAt),
	}

	for _, jobType := range store.AllJobTypes() {
		marker := account.RequestMarker(jobType)
		if marker == nil {
			continue
		}
		if dto.Requests == nil {
			dto.Requests = make(map[string]string)
		}
		dto.Requests[string(jobType)] = FormatTime(*marker)
	}
	return dto
}

// FromAccounts converts a slice of store accounts into API DTOs.
func FromAccounts(accounts []*store.Account) []Account {
	if len(accounts) == 0 {
		return nil
	}
	out := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, FromAccount(account))
	}
	return out
}

// FromJob converts a ledger job to its API representation.
func FromJob(job *store.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:        job.ID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		AccountID: job.AccountID,
		Progress: JobProgress{
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		ErrorMessage:  job.ErrorMessage,
		CorrelationID: job.CorrelationID,
		CreatedAt:     FormatTime(job.CreatedAt),
		StartedAt:     FormatTimePtr(job.StartedAt),
		CompletedAt:   FormatTimePtr(job.CompletedAt),
	}
	if !job.NextAttemptAt.IsZero() {
		dto.NextAttemptAt = FormatTime(job.NextAttemptAt)
	}
	if raw := job.PayloadJSON; raw != "" {
		dto.Payload = json.RawMessage(raw)
	}
	if raw := job.ResultJSON; raw != "" {
		dto.Result = json.RawMessage(raw)
	}
	return dto
}

// FromJobs converts a slice of ledger jobs into API DTOs.
func FromJobs(jobs []*store.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromEvent converts a pipeline event for the long-poll feed.
func FromEvent(evt events.Event) Event {
	return Event{
		Sequence:      evt.Sequence,
		Timestamp:     FormatTime(evt.Timestamp),
		Type:          string(evt.Type),
		AccountID:     evt.AccountID,
		JobID:         evt.JobID,
		JobType:       string(evt.JobType),
		Stage:         string(evt.Stage),
		Progress:      evt.Progress,
		Message:       evt.Message,
		CorrelationID: evt.CorrelationID,
		Fields:        evt.Fields,
	}
}

// FromEvents converts a batch of pipeline events.
func FromEvents(batch []events.Event) []Event {
	if len(batch) == 0 {
		return nil
	}
	out := make([]Event, 0, len(batch))
	for _, evt := range batch {
		out = append(out, FromEvent(evt))
	}
	return out
}

// FromDependencies converts binary availability checks for the status surface.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, DependencyStatus{
			Name:        status.Name,
			Command:     status.Command,
			Description: status.Description,
			Optional:    status.Optional,
			Available:   status.Available,
			Detail:      status.Detail,
		})
	}
	return out
}

// MergeJobStats produces a string-keyed representation of ledger counts.
func MergeJobStats(summary store.HealthSummary) map[string]int {
	return map[string]int{
		string(store.JobPending):    summary.Pending,
		string(store.JobProcessing): summary.Processing,
		string(store.JobCompleted):  summary.Completed,
		string(store.JobFailed):     summary.Failed,
		string(store.JobCancelled):  summary.Cancelled,
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FormatTimePtr converts an optional time to RFC3339 or returns empty string.
func FormatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
