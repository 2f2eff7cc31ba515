package runner

import (
	"context"
	"os"
	"os/exec"
)

// ProcessRunner runs a robot as an ordinary child process. No sandboxing
// is applied beyond OS process isolation; the caller is responsible for
// trusting the command.
type ProcessRunner struct {
	*pipeRunner
	cmd *exec.Cmd
}

// NewProcess spawns program args... with its standard streams redirected
// for the protocol exchange. The child is killed when the runner closes.
func NewProcess(ctx context.Context, program string, args []string, opts ...Option) (*ProcessRunner, error) {
	o := buildOptions(opts)

	cmd := exec.Command(program, args...)
	cmd.Stderr = o.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnError("cannot open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError("cannot open stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		removeOwnedDir(o)
		return nil, spawnError("cannot start robot process: "+program, err)
	}

	cleanup := []func() error{
		func() error {
			_ = stdin.Close()
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			// Reap; the exit status of a killed robot is not an error.
			_ = cmd.Wait()
			return nil
		},
	}
	if o.ownedDir != "" {
		dir := o.ownedDir
		cleanup = append(cleanup, func() error { return os.RemoveAll(dir) })
	}

	pipe, err := newPipeRunner(ctx, o, stdin, stdout, cleanup...)
	p := &ProcessRunner{pipeRunner: pipe, cmd: cmd}
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
