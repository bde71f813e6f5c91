package executor

import (
	"context"
	"os/exec"
	"time"

	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
)

// Request is a one-shot execution request.
type Request struct {
	Files     []project.SourceFile `json:"files"`
	Input     string               `json:"input,omitempty"`
	MainClass string               `json:"mainClass,omitempty"`
}

// Result is the outcome of one execution. ExitCode is 0 on success and 1 on
// any failure.
type Result struct {
	Stdout           string               `json:"stdout"`
	Stderr           string               `json:"stderr"`
	ExitCode         int                  `json:"exitCode"`
	UpdatedFiles     []project.SourceFile `json:"updatedFiles,omitempty"`
	WorkingDirectory string               `json:"workingDirectory,omitempty"`
}

// Config holds configuration for the executor
type Config struct {
	WorkspaceDir   string
	RunCommand     string
	Timeout        time.Duration
	RequestTimeout time.Duration
	CheckoutWait   time.Duration
	MaxConcurrent  int
	MaxOutputBytes int
	ChangeExcludes []string
}

// Resolver returns compiled artifacts for snapshots.
type Resolver interface {
	Resolve(ctx context.Context, snapshot project.Snapshot) (*compilecache.Lease, error)
}

// Detector finds the entry point of a project.
type Detector interface {
	Detect(files []project.SourceFile) (string, error)
}

// Pool hands out sandbox instances. Checkout fails with
// apperr.SandboxUnavailable when the run should fall back to local execution.
type Pool interface {
	Available() bool
	Checkout(ctx context.Context, wait time.Duration) (sandbox.Instance, error)
	Release(inst sandbox.Instance, healthy bool)
	Command(inst sandbox.Instance, workdir string, argv []string) *exec.Cmd
}
