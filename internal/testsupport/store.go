package testsupport

import (
	"context"
	"testing"

	"loom/internal/config"
	"loom/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewAccount creates an account for tests using the provided store.
func NewAccount(t testing.TB, st *store.Store, email string) *store.Account {
	t.Helper()

	account, err := st.CreateAccount(context.Background(), email, "", "")
	if err != nil {
		t.Fatalf("store.CreateAccount: %v", err)
	}
	return account
}

// NewJob creates a pending job for tests using the provided store.
func NewJob(t testing.TB, st *store.Store, accountID int64, jobType store.JobType) *store.Job {
	t.Helper()

	job, err := st.CreateJob(context.Background(), accountID, jobType, "", "", 3)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
