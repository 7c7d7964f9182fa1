// Package tools carries small host-execution helpers shared by the
// components that shell out.
package tools

import (
	"bytes"
	"errors"
	"os/exec"
)

// ExecRunner runs commands on the local host, capturing output and the
// exit code. Exit code 127 marks a command that could not be started.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}
	return stdout.Bytes(), stderr.Bytes(), 127, err
}
