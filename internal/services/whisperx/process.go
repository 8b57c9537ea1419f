package whisperx

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// CommandSpec describes a worker process to launch.
type CommandSpec struct {
	Name string
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

// Process is a running worker with piped standard streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
	Kill() error
}

// Starter launches worker processes. Tests substitute an in-memory fake.
type Starter func(ctx context.Context, spec CommandSpec) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

// ExecStarter starts spec as an operating system process. The process is not
// tied to ctx; its lifetime is owned by the handle that wraps it.
func ExecStarter(_ context.Context, spec CommandSpec) (Process, error) {
	cmd := exec.Command(spec.Name, spec.Args...) //nolint:gosec
	cmd.Env = append(os.Environ(), spec.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
