package proc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSupervisor() *Supervisor {
	s := NewSupervisor(zap.NewNop().Sugar())
	s.Warmup = 10 * time.Millisecond
	s.StopTimeout = 500 * time.Millisecond
	return s
}

func TestRunPairClientExitZero(t *testing.T) {
	s := newTestSupervisor()
	res, err := s.RunPair(Pair{ServerCmd: "sleep 30", ClientCmd: "true"})
	if err != nil {
		t.Fatalf("RunPair: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("result = %+v, want success with exit 0", res)
	}
}

func TestRunPairClientNonZeroExitIsAResultNotAnError(t *testing.T) {
	s := newTestSupervisor()
	res, err := s.RunPair(Pair{ServerCmd: "sleep 30", ClientCmd: `sh -c "exit 3"`})
	if err != nil {
		t.Fatalf("RunPair: %v", err)
	}
	if res.Success || res.ExitCode != 3 {
		t.Fatalf("result = %+v, want failure with exit 3", res)
	}
}

func TestRunPairEscalatesToKill(t *testing.T) {
	s := newTestSupervisor()
	// The server traps SIGTERM, so teardown has to escalate. The run must
	// still return promptly and without error.
	server := `sh -c "trap '' TERM; while true; do sleep 1; done"`
	start := time.Now()
	res, err := s.RunPair(Pair{ServerCmd: server, ClientCmd: "true"})
	if err != nil {
		t.Fatalf("RunPair: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("teardown took %v, escalation did not kick in", elapsed)
	}
}

func TestRunPairClientStartFailure(t *testing.T) {
	s := newTestSupervisor()
	_, err := s.RunPair(Pair{ServerCmd: "sleep 30", ClientCmd: "/no/such/binary-qtb"})
	if err == nil {
		t.Fatal("expected an error for an unlaunchable client")
	}
}

func TestRunPairWritesProcessLogs(t *testing.T) {
	s := newTestSupervisor()
	dir := t.TempDir()
	_, err := s.RunPair(Pair{ServerCmd: "echo srv-out", ClientCmd: "echo cli-out", LogDir: dir})
	if err != nil {
		t.Fatalf("RunPair: %v", err)
	}
	serverLog, err := os.ReadFile(filepath.Join(dir, "server.log"))
	if err != nil {
		t.Fatalf("server log: %v", err)
	}
	if !strings.Contains(string(serverLog), "srv-out") {
		t.Fatalf("server log = %q", serverLog)
	}
	clientLog, err := os.ReadFile(filepath.Join(dir, "client.log"))
	if err != nil {
		t.Fatalf("client log: %v", err)
	}
	if !strings.Contains(string(clientLog), "cli-out") {
		t.Fatalf("client log = %q", clientLog)
	}
}

func TestRunPairWithBaselineConjunction(t *testing.T) {
	s := newTestSupervisor()
	s.BaselineServerCmd = "sleep 30"
	s.BaselineClientCmd = "true"

	qlogDir := t.TempDir()
	ok, err := s.RunPairWithBaseline(Pair{ServerCmd: "sleep 30", ClientCmd: "true"}, qlogDir)
	if err != nil {
		t.Fatalf("RunPairWithBaseline: %v", err)
	}
	if !ok {
		t.Fatal("both pairs succeeded, want overall success")
	}

	s.BaselineClientCmd = "false"
	ok, err = s.RunPairWithBaseline(Pair{ServerCmd: "sleep 30", ClientCmd: "true"}, qlogDir)
	if err != nil {
		t.Fatalf("RunPairWithBaseline: %v", err)
	}
	if ok {
		t.Fatal("baseline failed, want overall failure")
	}
}

func TestNewestWithExtPicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "first.qlog")
	recent := filepath.Join(dir, "second.qlog")
	other := filepath.Join(dir, "ignored.log")
	for _, p := range []string{old, recent, other} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	if err := os.Chtimes(old, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(recent, now, now); err != nil {
		t.Fatal(err)
	}

	got, ok := newestWithExt(dir, ".qlog")
	if !ok || got != recent {
		t.Fatalf("newestWithExt = %q, %v; want %q", got, ok, recent)
	}
}

func TestNewestWithExtEmptyDir(t *testing.T) {
	if _, ok := newestWithExt(t.TempDir(), ".qlog"); ok {
		t.Fatal("found an artifact in an empty directory")
	}
}
