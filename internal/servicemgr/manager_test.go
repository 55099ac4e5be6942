package servicemgr

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestStartReturnsErrorForUnregisteredService(t *testing.T) {
	m := NewManager()
	err := m.Start(context.Background(), map[string]string{"HTTP": "/tmp"})
	if err == nil {
		t.Fatal("expected an error for an unregistered service")
	}
}

func TestStartPropagatesSpontaneousExit(t *testing.T) {
	m := NewManager()
	m.Register("HTTP", func(_ context.Context, _ string) (*exec.Cmd, error) {
		return exec.Command("true"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx, map[string]string{"HTTP": "/tmp"}); err == nil {
		t.Fatal("expected spontaneous exit of the only service to surface as an error")
	}
}

func TestStartStopsServicesWhenContextCancelled(t *testing.T) {
	m := NewManager()
	m.Register("HTTP", func(_ context.Context, _ string) (*exec.Cmd, error) {
		return exec.Command("sleep", "30"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx, map[string]string{"HTTP": "/tmp"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a clean shutdown on cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
