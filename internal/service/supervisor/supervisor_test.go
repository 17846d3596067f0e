package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSupervisor(script string) *Supervisor {
	detector := LogLineDetector{Window: 5 * time.Second, Grace: 2 * time.Second}
	return New([]string{"/bin/sh", "-c", script}, detector, discardLogger())
}

func TestStartDetectsReadinessAndStops(t *testing.T) {
	s := testSupervisor("echo listening; exec sleep 30")
	defer s.StopAll()

	key := Key("alice", "shop")
	info, err := s.Start(context.Background(), t.TempDir(), 4500, key)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !info.Running || info.PID <= 0 {
		t.Fatalf("unexpected process info %+v", info)
	}
	if info.Project != "shop" {
		t.Fatalf("expected project shop, got %s", info.Project)
	}

	status := s.Status("alice")
	if len(status) != 1 || status[0].Key != key {
		t.Fatalf("unexpected status %+v", status)
	}
	if others := s.Status("bob"); len(others) != 0 {
		t.Fatalf("prefix filter leaked entries: %+v", others)
	}

	if !s.Stop(key) {
		t.Fatal("Stop should report true for a registered process")
	}
	if s.Stop(key) {
		t.Fatal("second Stop should be a no-op returning false")
	}
	if remaining := s.Status("alice"); len(remaining) != 0 {
		t.Fatalf("registry entry survived Stop: %+v", remaining)
	}
}

func TestStartFailsWhenProcessExitsBeforeReady(t *testing.T) {
	s := testSupervisor("exit 3")
	defer s.StopAll()

	_, err := s.Start(context.Background(), t.TempDir(), 4501, Key("alice", "shop"))
	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("expected ErrExitedBeforeReady cause, got %v", err)
	}
	if len(s.Status("")) != 0 {
		t.Fatal("failed start left a registry entry behind")
	}
}

func TestExitRemovesHandle(t *testing.T) {
	s := testSupervisor("echo listening; sleep 0.1")
	defer s.StopAll()

	key := Key("alice", "shop")
	if _, err := s.Start(context.Background(), t.TempDir(), 4502, key); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for len(s.Status("alice")) != 0 {
		select {
		case <-deadline:
			t.Fatal("registry entry not removed after process exit")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRedeployTerminatesPreviousProcess(t *testing.T) {
	s := testSupervisor("echo listening; exec sleep 30")
	defer s.StopAll()

	key := Key("alice", "shop")
	first, err := s.Start(context.Background(), t.TempDir(), 4503, key)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := s.Start(context.Background(), t.TempDir(), 4503, key)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.PID == second.PID {
		t.Fatal("redeploy reused the previous process")
	}

	status := s.Status("alice")
	if len(status) != 1 {
		t.Fatalf("expected exactly one registry entry, got %d", len(status))
	}
	if status[0].PID != second.PID {
		t.Fatalf("registry points at stale pid %d", status[0].PID)
	}
}

func TestStopUnknownKeyReturnsFalse(t *testing.T) {
	s := testSupervisor("echo listening")
	if s.Stop(Key("nobody", "nothing")) {
		t.Fatal("Stop on unknown key should return false")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("user-1", "my-app")
	if key != "user-1/my-app" {
		t.Fatalf("unexpected key %q", key)
	}
	if got := ProjectFromKey(key); got != "my-app" {
		t.Fatalf("unexpected project %q", got)
	}
}
