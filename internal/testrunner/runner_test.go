package testrunner

import (
	"context"
	"fmt"
	"net"
	"testing"
)

func TestSanitizeStripsIdentityTokens(t *testing.T) {
	in := "found vuln at recorded_host:8080 via emulator_ip and container_network"
	want := "found vuln at  via  and "
	if got := Sanitize(in); got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
	}
}

type fakeEmulator struct {
	ln    net.Listener
	ip    string
	ports []int
}

func (f *fakeEmulator) Ports() []int { return f.ports }
func (f *fakeEmulator) IP() string   { return f.ip }
func (f *fakeEmulator) Stop() error  { return f.ln.Close() }

type fakeScanner struct {
	output string
	err    error
}

func (s *fakeScanner) Invoke(_ context.Context, _ string, _ []string, _ string) (string, error) {
	return s.output, s.err
}

func newFakeEmulator(t *testing.T) *fakeEmulator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return &fakeEmulator{ln: ln, ip: "127.0.0.1", ports: []int{port}}
}

func TestRunPassesWhenSanitizedOutputMatches(t *testing.T) {
	emu := newFakeEmulator(t)
	launcher := func(_ context.Context, _ string) (Emulator, error) { return emu, nil }
	scanner := &fakeScanner{output: "result on recorded_host:1234"}

	r := NewRunner(launcher, scanner)
	cases := []CaseInput{{
		Dir:            "TestCase0",
		Ports:          emu.Ports(),
		RecordedResult: "result on emulator_ip:9999",
	}}

	passed, results, err := r.Run(context.Background(), cases, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed {
		t.Errorf("expected overall pass, got results=%+v", results)
	}
}

func TestRunFailsOnMismatch(t *testing.T) {
	emu := newFakeEmulator(t)
	launcher := func(_ context.Context, _ string) (Emulator, error) { return emu, nil }
	scanner := &fakeScanner{output: "different result"}

	r := NewRunner(launcher, scanner)
	cases := []CaseInput{{Dir: "TestCase0", Ports: emu.Ports(), RecordedResult: "expected result"}}

	passed, _, err := r.Run(context.Background(), cases, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed {
		t.Error("expected overall failure on mismatch")
	}
}

func TestRunClampsConcurrencyToCaseCount(t *testing.T) {
	var emulators []*fakeEmulator
	for i := 0; i < 3; i++ {
		emulators = append(emulators, newFakeEmulator(t))
	}

	idx := 0
	launcher := func(_ context.Context, _ string) (Emulator, error) {
		e := emulators[idx]
		idx++
		return e, nil
	}
	scanner := &fakeScanner{output: "ok"}
	r := NewRunner(launcher, scanner)

	var cases []CaseInput
	for i := range emulators {
		cases = append(cases, CaseInput{Dir: fmt.Sprintf("TestCase%d", i), Ports: emulators[i].Ports(), RecordedResult: "ok"})
	}

	passed, results, err := r.Run(context.Background(), cases, 100)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed || len(results) != 3 {
		t.Errorf("expected all 3 cases to pass, got %+v", results)
	}
}

func TestWaitReadyTimesOutOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitReady(ctx, "127.0.0.1", []int{1}); err == nil {
		t.Error("expected waitReady to respect an already-cancelled context")
	}
}
