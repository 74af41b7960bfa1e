package daemon

import (
	"context"
	"testing"

	"loom/internal/events"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/store"
	"loom/internal/testsupport"
)

type stubHandler struct {
	jobType store.JobType
}

func (h stubHandler) JobType() store.JobType                        { return h.jobType }
func (h stubHandler) Execute(context.Context, *pipeline.Task) error { return nil }

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	hub := events.NewHub(64)
	orch := pipeline.New(cfg, st, logging.NewNop(), hub, notifications.NewService(cfg))
	orch.Register(stubHandler{jobType: store.JobProvisionProfile})

	d, err := New(cfg, st, logging.NewNop(), orch, hub)
	if err != nil {
		t.Fatalf("New daemon failed: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected bound api address after Start")
	}

	status := d.Status(context.Background())
	if !status.Running || !status.Pipeline.Running {
		t.Fatalf("expected running daemon, got %#v", status)
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Fatal("expected stopped daemon after Stop")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	first := newTestDaemon(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer first.Stop()

	second, err := New(first.cfg, first.store, logging.NewNop(), first.orch, first.hub)
	if err != nil {
		t.Fatalf("New second daemon failed: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the lock")
	}
}

func TestCreateAccountRequiresEmail(t *testing.T) {
	d := newTestDaemon(t)
	if _, err := d.CreateAccount(context.Background(), "  ", "", ""); err == nil {
		t.Fatal("expected validation error for empty email")
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	d := newTestDaemon(t)
	sent, detail, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if sent {
		t.Fatalf("expected no send without a topic, got %q", detail)
	}
}
