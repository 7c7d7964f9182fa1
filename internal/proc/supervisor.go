// Package proc runs one server+client process pair to completion with a
// bounded, escalating teardown of the server.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

const (
	// DefaultWarmup is the fixed sleep between launching the server and the
	// client. There is no readiness handshake; a server that needs longer
	// than this to listen will fail its first client.
	DefaultWarmup = 2 * time.Second
	// DefaultStopTimeout bounds the graceful-shutdown wait before the
	// server is force-killed.
	DefaultStopTimeout = 5 * time.Second
)

// Pair describes one server+client run. Label prefixes the per-process log
// files when a second pair shares the same directory.
type Pair struct {
	ServerCmd string
	ClientCmd string
	LogDir    string
	Label     string
}

// Result is the data outcome of a pair. A non-zero client exit is not an
// error, it is a result the caller records.
type Result struct {
	ExitCode int
	Success  bool
}

// ShutdownError reports a server that survived SIGTERM and SIGKILL. The
// process could not be cleaned up, so callers must treat it as fatal.
type ShutdownError struct {
	Pid int
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("server process %d could not be shut down: %v", e.Pid, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// Supervisor launches and tears down process pairs.
type Supervisor struct {
	Warmup      time.Duration
	StopTimeout time.Duration

	// The baseline pair is a fixed TCP+TLS echo of the experiment, not an
	// implementation template.
	BaselineServerCmd string
	BaselineClientCmd string

	log *zap.SugaredLogger
}

func NewSupervisor(log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		Warmup:            DefaultWarmup,
		StopTimeout:       DefaultStopTimeout,
		BaselineServerCmd: "python3 tcp_tls/server.py",
		BaselineClientCmd: "python3 tcp_tls/client.py",
		log:               log,
	}
}

// RunPair starts the server, waits the warmup, runs the client to exit and
// then shuts the server down. The server is never left running after
// return, whatever happened to the client; a failed shutdown is returned
// as a ShutdownError and takes precedence over any client outcome.
func (s *Supervisor) RunPair(p Pair) (Result, error) {
	serverArgv, err := shellwords.Parse(p.ServerCmd)
	if err != nil || len(serverArgv) == 0 {
		return Result{}, fmt.Errorf("invalid server command %q: %v", p.ServerCmd, err)
	}
	clientArgv, err := shellwords.Parse(p.ClientCmd)
	if err != nil || len(clientArgv) == 0 {
		return Result{}, fmt.Errorf("invalid client command %q: %v", p.ClientCmd, err)
	}

	serverOut, err := s.openLog(p, "server.log")
	if err != nil {
		return Result{}, err
	}
	defer serverOut.Close()
	clientOut, err := s.openLog(p, "client.log")
	if err != nil {
		return Result{}, err
	}
	defer clientOut.Close()

	server := exec.Command(serverArgv[0], serverArgv[1:]...)
	server.Stdout = serverOut
	server.Stderr = serverOut
	if err := server.Start(); err != nil {
		return Result{}, fmt.Errorf("starting server: %w", err)
	}
	s.log.Infow("server started", "pid", server.Process.Pid, "cmd", p.ServerCmd)

	waitCh := make(chan error, 1)
	go func() { waitCh <- server.Wait() }()

	var res Result
	clientErr := func() error {
		time.Sleep(s.Warmup)
		client := exec.Command(clientArgv[0], clientArgv[1:]...)
		client.Stdout = clientOut
		client.Stderr = clientOut
		s.log.Infow("client starting", "cmd", p.ClientCmd)
		err := client.Run()
		if err == nil {
			res = Result{ExitCode: 0, Success: true}
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res = Result{ExitCode: exitErr.ExitCode(), Success: false}
			return nil
		}
		return fmt.Errorf("starting client: %w", err)
	}()

	// Teardown runs on every exit path out of the client phase.
	if err := s.stopServer(server, waitCh); err != nil {
		return res, err
	}
	if clientErr != nil {
		return res, clientErr
	}
	s.log.Infow("client finished", "exit_code", res.ExitCode)
	return res, nil
}

// stopServer is the two-phase shutdown: SIGTERM, a bounded wait, then
// SIGKILL with an unconditional wait for the reaper goroutine.
func (s *Supervisor) stopServer(server *exec.Cmd, waitCh chan error) error {
	_ = server.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
		return nil
	case <-time.After(s.StopTimeout):
	}
	s.log.Warnw("server ignored SIGTERM, killing", "pid", server.Process.Pid)
	if err := server.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &ShutdownError{Pid: server.Process.Pid, Err: err}
	}
	<-waitCh
	return nil
}

// RunPairWithBaseline runs the primary pair, then the fixed TCP baseline
// under the same link conditions. The companion output path is derived
// from the newest qlog the primary client produced; a missing qlog is not
// fatal, the baseline just logs to a default name. Overall success is the
// conjunction of both runs.
func (s *Supervisor) RunPairWithBaseline(primary Pair, qlogDir string) (bool, error) {
	res, err := s.RunPair(primary)
	if err != nil {
		return false, err
	}

	out := filepath.Join(qlogDir, "baseline_tcp.log")
	if qlog, ok := newestWithExt(qlogDir, ".qlog"); ok {
		out = qlog[:len(qlog)-len(".qlog")] + "_tcp.log"
	} else {
		s.log.Warnw("no qlog found for baseline companion, using default output", "dir", qlogDir)
	}

	baseline := Pair{
		ServerCmd: s.BaselineServerCmd,
		ClientCmd: s.BaselineClientCmd + " --out " + out,
		LogDir:    primary.LogDir,
		Label:     "baseline",
	}
	bres, err := s.RunPair(baseline)
	if err != nil {
		return false, err
	}
	if !bres.Success {
		s.log.Warnw("baseline run failed", "exit_code", bres.ExitCode)
	}
	return res.Success && bres.Success, nil
}

func (s *Supervisor) openLog(p Pair, name string) (io.WriteCloser, error) {
	if p.LogDir == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	if p.Label != "" {
		name = p.Label + "-" + name
	}
	f, err := os.Create(filepath.Join(p.LogDir, name))
	if err != nil {
		return nil, fmt.Errorf("creating process log: %w", err)
	}
	return f, nil
}

// newestWithExt returns the most-recently-modified file in dir with the
// given extension. External tooling locates artifacts the same way.
func newestWithExt(dir, ext string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	return newest, newest != ""
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
