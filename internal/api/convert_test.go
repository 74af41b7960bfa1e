package api_test

import (
	"testing"
	"time"

	"loom/internal/api"
	"loom/internal/events"
	"loom/internal/store"
)

func TestFromAccountOmitsCredentialMaterial(t *testing.T) {
	loginAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	requested := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	account := &store.Account{
		ID:               7,
		Email:            "viewer@example.com",
		Stage:            store.StageLoginComplete,
		Status:           store.AccountOK,
		SessionToken:     "super-secret",
		CredentialBlob:   `{"cookies":[]}`,
		LoginCompletedAt: &loginAt,
		CreatedAt:        loginAt,
		UpdatedAt:        loginAt,
	}
	account.SetRequestMarker(store.JobExtractSession, &requested)

	dto := api.FromAccount(account)
	if !dto.HasSession {
		t.Fatal("expected HasSession true when a token is stored")
	}
	if dto.Stage != "login-complete" || dto.Status != "ok" {
		t.Fatalf("unexpected stage/status: %q/%q", dto.Stage, dto.Status)
	}
	if dto.Requests["extract-session"] == "" {
		t.Fatal("expected request marker in DTO")
	}
	if got := dto.LoginAt; got != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("unexpected login timestamp %q", got)
	}
}

func TestFromJobCarriesPayloadAndResult(t *testing.T) {
	now := time.Now().UTC()
	job := &store.Job{
		ID:            3,
		Type:          store.JobGenerateContent,
		Status:        store.JobCompleted,
		AccountID:     7,
		PayloadJSON:   `{"prompt":"dawn"}`,
		ResultJSON:    `{"files":["a.png"]}`,
		RetryCount:    1,
		MaxRetries:    3,
		CreatedAt:     now,
		NextAttemptAt: now,
	}

	dto := api.FromJob(job)
	if string(dto.Payload) != `{"prompt":"dawn"}` {
		t.Fatalf("unexpected payload %s", dto.Payload)
	}
	if string(dto.Result) != `{"files":["a.png"]}` {
		t.Fatalf("unexpected result %s", dto.Result)
	}
	if dto.NextAttemptAt == "" {
		t.Fatal("expected next attempt timestamp")
	}
}

func TestFromEventPreservesSequence(t *testing.T) {
	evt := events.Event{
		Sequence:  41,
		Timestamp: time.Now().UTC(),
		Type:      events.TypeJobProgress,
		JobID:     12,
		Progress:  60,
	}
	dto := api.FromEvent(evt)
	if dto.Sequence != 41 || dto.Type != string(events.TypeJobProgress) {
		t.Fatalf("unexpected DTO %#v", dto)
	}
}

func TestMergeJobStatsKeysByStatus(t *testing.T) {
	stats := api.MergeJobStats(store.HealthSummary{Pending: 2, Failed: 1})
	if stats["pending"] != 2 || stats["failed"] != 1 || stats["completed"] != 0 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}
