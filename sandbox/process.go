package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// Process is a started program whose stdout and stderr share one pipe. It is
// reaped by its own goroutine, so Done closes as soon as the program exits
// regardless of whether anyone reads its output.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File

	done     chan struct{}
	exitCode int
	waitErr  error
	killed   atomic.Bool
}

// StartProcess starts cmd in its own process group with merged output.
func StartProcess(cmd *exec.Cmd) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}

	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; EOF arrives once it and
	// its descendants exit.
	pw.Close()

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		output: pr,
		done:   make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = err
	}
	close(p.done)
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdin returns the write end of the program's standard input.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Output returns the merged stdout/stderr stream.
func (p *Process) Output() io.Reader {
	return p.output
}

// Done is closed when the program has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the program is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the program exits and returns its exit code. A program
// killed by a signal reports -1.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Kill sends SIGKILL to the whole process group.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	p.killed.Store(true)
	if err := killProcessGroup(p.cmd.Process.Pid); err == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Killed reports whether Kill was called while the program was alive.
func (p *Process) Killed() bool {
	return p.killed.Load()
}

// CloseOutput closes the read end of the output pipe, unblocking readers.
func (p *Process) CloseOutput() error {
	return p.output.Close()
}
