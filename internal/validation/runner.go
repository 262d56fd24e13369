package validation

import (
	"bytes"
	"context"
	stdErrors "errors"
	"os/exec"
)

// ErrToolNotFound is returned by a CommandRunner when the stage binary is missing.
var ErrToolNotFound = stdErrors.New("tool not found")

// CommandRunner executes a stage command in dir and returns its combined
// output and exit code. A non-zero exit is not an error.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args []string) (output []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args []string) ([]byte, int, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, -1, ErrToolNotFound
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err = cmd.Run()
	var exitErr *exec.ExitError
	if stdErrors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return buf.Bytes(), exitErr.ExitCode(), ctx.Err()
		}
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return buf.Bytes(), -1, err
	}
	return buf.Bytes(), 0, nil
}
