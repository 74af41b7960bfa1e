package store

import (
	"strings"
	"time"
)

// JobType identifies the pipeline stage a job executes.
type JobType string

const (
	JobProvisionProfile    JobType = "provision-profile"
	JobInteractiveLogin    JobType = "interactive-login"
	JobExtractSession      JobType = "extract-session"
	JobCreateRemoteProject JobType = "create-remote-project"
	JobGenerateContent     JobType = "generate-content"
)

var allJobTypes = []JobType{
	JobProvisionProfile,
	JobInteractiveLogin,
	JobExtractSession,
	JobCreateRemoteProject,
	JobGenerateContent,
}

// AllJobTypes returns the ordered list of known job types.
func AllJobTypes() []JobType {
	cp := make([]JobType, len(allJobTypes))
	copy(cp, allJobTypes)
	return cp
}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	for _, jt := range allJobTypes {
		if jt == normalized {
			return jt, true
		}
	}
	return "", false
}

// JobStatus represents the lifecycle of a ledger job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed, JobCancelled}

// AllJobStatuses returns the known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, st := range allJobStatuses {
		if st == normalized {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether a job status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is a persisted unit of work for one pipeline stage.
type Job struct {
	ID              int64
	Type            JobType
	Status          JobStatus
	AccountID       int64
	PayloadJSON     string
	ProgressPercent float64
	ProgressMessage string
	RetryCount      int
	MaxRetries      int
	NextAttemptAt   time.Time
	ResultJSON      string
	ErrorMessage    string
	CorrelationID   string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
}

// InFlight reports whether the job still occupies its (account, type) slot.
func (j *Job) InFlight() bool {
	return j != nil && (j.Status == JobPending || j.Status == JobProcessing)
}

// Stage is an account's position in the lifecycle.
type Stage string

const (
	StageNew           Stage = "new"
	StageProfileReady  Stage = "profile-ready"
	StageLoginComplete Stage = "login-complete"
	StageSessionActive Stage = "session-active"
	StageProjectReady  Stage = "project-ready"
	StageGenerating    Stage = "generating"
)

var stageOrder = []Stage{
	StageNew,
	StageProfileReady,
	StageLoginComplete,
	StageSessionActive,
	StageProjectReady,
	StageGenerating,
}

// AllStages returns the lifecycle order.
func AllStages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, st := range stageOrder {
		if st == normalized {
			return st, true
		}
	}
	return "", false
}

// NextStage returns the stage an account reaches after completing the job
// for its current stage. StageGenerating is its own successor: generation
// repeats without further lifecycle movement.
func NextStage(stage Stage) (Stage, bool) {
	for i, st := range stageOrder {
		if st != stage {
			continue
		}
		if i == len(stageOrder)-1 {
			return st, true
		}
		return stageOrder[i+1], true
	}
	return "", false
}

// JobTypeForStage returns the job type that advances an account from the
// given stage.
func JobTypeForStage(stage Stage) (JobType, bool) {
	switch stage {
	case StageNew:
		return JobProvisionProfile, true
	case StageProfileReady:
		return JobInteractiveLogin, true
	case StageLoginComplete:
		return JobExtractSession, true
	case StageSessionActive:
		return JobCreateRemoteProject, true
	case StageProjectReady, StageGenerating:
		return JobGenerateContent, true
	default:
		return "", false
	}
}

// StageAccepts reports whether an account at the given stage may run the job
// type. This is the gate the worker engine checks before executing a lease.
func StageAccepts(stage Stage, jobType JobType) bool {
	expected, ok := JobTypeForStage(stage)
	return ok && expected == jobType
}

// AccountStatus is the account's health, orthogonal to its lifecycle stage.
type AccountStatus string

const (
	// AccountOK means the account may be dispatched.
	AccountOK AccountStatus = "ok"
	// AccountError means the last operation failed terminally; the stage is
	// retained and the same stage may be re-requested.
	AccountError AccountStatus = "error"
	// AccountBlocked means the credentials are unusable until a fresh
	// interactive login cycle.
	AccountBlocked AccountStatus = "blocked"
)

// ParseAccountStatus converts a string into a known AccountStatus.
func ParseAccountStatus(value string) (AccountStatus, bool) {
	normalized := AccountStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case AccountOK, AccountError, AccountBlocked:
		return normalized, true
	default:
		return "", false
	}
}

// Account is a persisted account moving through the lifecycle.
type Account struct {
	ID             int64
	Email          string
	DisplayName    string
	CredentialRef  string
	Stage          Stage
	Status         AccountStatus
	ProfilePath    string
	SessionToken   string
	CredentialBlob string
	RemoteProject  string

	ProfileRequestedAt  *time.Time
	LoginRequestedAt    *time.Time
	SessionRequestedAt  *time.Time
	ProjectRequestedAt  *time.Time
	GenerateRequestedAt *time.Time

	LoginCompletedAt   *time.Time
	SessionExtractedAt *time.Time

	LastError   string
	LastErrorAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RequestMarker returns the request timestamp recorded for a job type.
func (a *Account) RequestMarker(jobType JobType) *time.Time {
	switch jobType {
	case JobProvisionProfile:
		return a.ProfileRequestedAt
	case JobInteractiveLogin:
		return a.LoginRequestedAt
	case JobExtractSession:
		return a.SessionRequestedAt
	case JobCreateRemoteProject:
		return a.ProjectRequestedAt
	case JobGenerateContent:
		return a.GenerateRequestedAt
	default:
		return nil
	}
}

// SetRequestMarker records a request timestamp for a job type.
func (a *Account) SetRequestMarker(jobType JobType, at *time.Time) {
	switch jobType {
	case JobProvisionProfile:
		a.ProfileRequestedAt = at
	case JobInteractiveLogin:
		a.LoginRequestedAt = at
	case JobExtractSession:
		a.SessionRequestedAt = at
	case JobCreateRemoteProject:
		a.ProjectRequestedAt = at
	case JobGenerateContent:
		a.GenerateRequestedAt = at
	}
}

// HealthSummary describes aggregated ledger counts per key lifecycle states.
type HealthSummary struct {
	TotalJobs      int
	Pending        int
	Processing     int
	Failed         int
	Completed      int
	Cancelled      int
	TotalAccounts  int
	BlockedAccount int
	ErrorAccount   int
}
