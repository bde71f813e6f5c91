package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// ContainerSpec describes a long-lived sandbox container.
type ContainerSpec struct {
	Name           string
	Image          string
	// WorkspaceDir is the host directory mounted at ContainerWorkspace.
	WorkspaceDir   string
	CPUs           float64
	MemoryMB       int
	TmpfsMB        int
	NetworkEnabled bool
}

// Runtime is a container runtime reachable through a local control interface.
type Runtime interface {
	Name() string
	Probe(ctx context.Context) error
	Start(ctx context.Context, spec ContainerSpec) (string, error)
	Remove(ctx context.Context, id string) error
	ExecArgs(id, workdir string, argv []string) []string
}

// CLIRuntime drives a Docker compatible command line client.
type CLIRuntime struct {
	binary    string
	cmdRunner CommandRunner
}

// CLIRuntimeOption defines a functional option for CLIRuntime
type CLIRuntimeOption func(*CLIRuntime)

// WithCommandRunner sets the CommandRunner for CLIRuntime
func WithCommandRunner(cmdRunner CommandRunner) CLIRuntimeOption {
	return func(r *CLIRuntime) {
		r.cmdRunner = cmdRunner
	}
}

// NewCLIRuntime creates a runtime for the given client binary
func NewCLIRuntime(binary string, opts ...CLIRuntimeOption) *CLIRuntime {
	r := &CLIRuntime{
		binary:    binary,
		cmdRunner: &RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the client binary name
func (r *CLIRuntime) Name() string {
	return r.binary
}

// Probe checks that the runtime daemon answers
func (r *CLIRuntime) Probe(ctx context.Context) error {
	_, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, []string{r.binary, "info"})
	if err != nil {
		return fmt.Errorf("%s info: %w", r.binary, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s info exited with %d: %s", r.binary, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// Start launches a detached, idle container and returns its id
func (r *CLIRuntime) Start(ctx context.Context, spec ContainerSpec) (string, error) {
	network := "none"
	if spec.NetworkEnabled {
		network = "bridge"
	}

	args := []string{
		r.binary, "run",
		"-d", "-i",
		"--name", spec.Name,
		"--cpus", fmt.Sprintf("%.2f", spec.CPUs),
		"--memory", fmt.Sprintf("%dm", spec.MemoryMB),
		"--network", network,
		"--tmpfs", fmt.Sprintf("/tmp:rw,noexec,nosuid,size=%dm", spec.TmpfsMB),
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"-v", fmt.Sprintf("%s:%s", spec.WorkspaceDir, ContainerWorkspace),
		"--workdir", ContainerWorkspace,
		spec.Image,
		"tail", "-f", "/dev/null",
	}

	stdout, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("container start exited with %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	id := strings.TrimSpace(stdout)
	if id == "" {
		return "", fmt.Errorf("container start returned no id")
	}
	return id, nil
}

// Remove force-removes a container
func (r *CLIRuntime) Remove(ctx context.Context, id string) error {
	_, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, []string{r.binary, "rm", "-f", id})
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("container remove exited with %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// ExecArgs returns the command line that runs argv inside the container with
// stdin attached.
func (r *CLIRuntime) ExecArgs(id, workdir string, argv []string) []string {
	args := []string{r.binary, "exec", "-i", "-w", workdir, id}
	return append(args, argv...)
}
