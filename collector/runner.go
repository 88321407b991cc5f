package collector

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

var errEmptyCommand = errors.New("empty command")

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run executes argv and waits for it to exit.  No timeout is applied; a hung
// command blocks until ctx is canceled.
func (ExecRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, errEmptyCommand
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
