package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Account describes an account record in a transport-friendly format.
// Session tokens and credential blobs are deliberately absent; HasSession
// is the only trace of them on the wire.
type Account struct {
	ID            int64             `json:"id"`
	Email         string            `json:"email"`
	DisplayName   string            `json:"displayName,omitempty"`
	Stage         string            `json:"stage"`
	Status        string            `json:"status"`
	ProfilePath   string            `json:"profilePath,omitempty"`
	HasSession    bool              `json:"hasSession"`
	RemoteProject string            `json:"remoteProject,omitempty"`
	Requests      map[string]string `json:"requests,omitempty"`
	LoginAt       string            `json:"loginCompletedAt,omitempty"`
	SessionAt     string            `json:"sessionExtractedAt,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	LastErrorAt   string            `json:"lastErrorAt,omitempty"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

// JobProgress captures reported progress for a ledger job.
type JobProgress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Job describes a ledger job in a transport-friendly format.
type Job struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	AccountID     int64           `json:"accountId"`
	Progress      JobProgress     `json:"progress"`
	RetryCount    int             `json:"retryCount"`
	MaxRetries    int             `json:"maxRetries"`
	NextAttemptAt string          `json:"nextAttemptAt,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	StartedAt     string          `json:"startedAt,omitempty"`
	CompletedAt   string          `json:"completedAt,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// Event mirrors one pipeline event for the long-poll feed.
type Event struct {
	Sequence      uint64            `json:"sequence"`
	Timestamp     string            `json:"timestamp"`
	Type          string            `json:"type"`
	AccountID     int64             `json:"accountId,omitempty"`
	JobID         int64             `json:"jobId,omitempty"`
	JobType       string            `json:"jobType,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	Progress      float64           `json:"progress,omitempty"`
	Message       string            `json:"message,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// PipelineStatus summarizes worker execution state.
type PipelineStatus struct {
	Running   bool           `json:"running"`
	JobStats  map[string]int `json:"jobStats"`
	LastError string         `json:"lastError,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	DatabasePath    string             `json:"databasePath"`
	LockFilePath    string             `json:"lockFilePath"`
	Pipeline        PipelineStatus     `json:"pipeline"`
	TotalAccounts   int                `json:"totalAccounts"`
	BlockedAccounts int                `json:"blockedAccounts"`
	ErrorAccounts   int                `json:"errorAccounts"`
	Dependencies    []DependencyStatus `json:"dependencies"`
}

// CreateAccountRequest is the POST /api/accounts body.
type CreateAccountRequest struct {
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

// StageRequestBody carries the optional payload for a stage request.
type StageRequestBody struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StageRequestResponse reports the job backing a stage request.
type StageRequestResponse struct {
	Job Job `json:"job"`
}

// RetryJobsRequest selects failed jobs to reset; empty means all failed.
type RetryJobsRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// ClearJobsRequest selects terminal statuses to remove; empty means all
// terminal jobs.
type ClearJobsRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// MutationResponse reports how many rows a bulk operation touched.
type MutationResponse struct {
	Affected int64 `json:"affected"`
}

// AccountListResponse wraps a collection of accounts.
type AccountListResponse struct {
	Accounts []Account `json:"accounts"`
}

// AccountResponse wraps a single account.
type AccountResponse struct {
	Account Account `json:"account"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// EventStreamResponse wraps a page of the event feed along with the
// cursor to poll from next.
type EventStreamResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}
