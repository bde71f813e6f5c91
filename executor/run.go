package executor

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
)

// Execution modes
const (
	ModePooled = "pooled"
	ModeLocal  = "local"
)

// Run is a launched program together with the resources it holds: its
// staging directory and, in pooled mode, a sandbox instance. Close releases
// all of them and must be called on every path.
type Run struct {
	*sandbox.Process

	Entry string
	Mode  string
	// WorkDir is the host staging directory.
	WorkDir string
	// VisibleDir is WorkDir as seen by the program.
	VisibleDir string

	logger   *zap.Logger
	pool     Pool
	instance sandbox.Instance
	baseDir  string
	excludes []string

	closeOnce sync.Once
}

// Launch stages artifact and starts entry. It prefers a pooled sandbox and
// falls back to a local subprocess when the pool is unavailable or exhausted.
func (e *Executor) Launch(ctx context.Context, artifact compilecache.Artifact, entry string) (*Run, error) {
	inst, err := e.pool.Checkout(ctx, e.config.CheckoutWait)
	pooled := err == nil
	if err != nil {
		if !apperr.Is(err, apperr.SandboxUnavailable) {
			return nil, apperr.Wrap(err, apperr.InternalError, "failed to check out sandbox")
		}
		if e.pool.Available() {
			e.logger.Warn("no sandbox available in time, running locally", zap.String("entry", entry), zap.Error(err))
		}
	}

	// A pooled run is staged inside the instance's own mount.
	stageRoot := e.config.WorkspaceDir
	if pooled {
		stageRoot = inst.Dir
	}
	runDir, err := sandbox.Stage(artifact.Dir, stageRoot)
	if err != nil {
		if pooled {
			e.pool.Release(inst, true)
		}
		return nil, apperr.Wrap(err, apperr.InternalError, "failed to stage artifact")
	}

	argv := e.runTemplate.Expand(map[string][]string{
		"classpath": {"."},
		"entry":     {entry},
	})

	run := &Run{
		Entry:    entry,
		WorkDir:  runDir,
		logger:   e.logger,
		pool:     e.pool,
		baseDir:  artifact.Dir,
		excludes: e.config.ChangeExcludes,
	}

	var cmd *exec.Cmd
	if pooled {
		run.Mode = ModePooled
		run.instance = inst
		run.VisibleDir = sandbox.ContainerPath(runDir)
		cmd = e.pool.Command(inst, run.VisibleDir, argv)
	} else {
		run.Mode = ModeLocal
		run.VisibleDir = runDir
		cmd = exec.Command(argv[0], argv[1:]...) //nolint:gosec // Command comes from the configured run template
		cmd.Dir = runDir
	}
	run.logger = e.logger.With(zap.String("entry", entry), zap.String("mode", run.Mode))
	if pooled {
		run.logger = run.logger.With(zap.String("container", inst.ID))
	}

	proc, err := sandbox.StartProcess(cmd)
	if err != nil {
		run.removeWorkDir()
		if pooled {
			e.pool.Release(inst, false)
		}
		return nil, apperr.Wrap(err, apperr.ProcessLaunchFailure, "Failed to start process")
	}
	run.Process = proc
	run.logger.Debug("process started", zap.Int("pid", proc.Pid()), zap.String("dir", run.VisibleDir))
	return run, nil
}

// UpdatedFiles returns the text files the program created or modified.
func (r *Run) UpdatedFiles() []project.SourceFile {
	files, err := project.ChangedFiles(r.baseDir, r.WorkDir, r.excludes)
	if err != nil {
		r.logger.Warn("failed to collect updated files", zap.Error(err))
		return nil
	}
	return files
}

// Close kills the program if it is still alive, waits for it, removes the
// staging directory and returns the sandbox instance. A killed or failed run
// returns its instance as unhealthy, which removes the container before
// Close returns: killing the local exec client does not stop the program
// inside the container.
func (r *Run) Close() {
	r.closeOnce.Do(func() {
		if r.Alive() {
			if err := r.Kill(); err != nil {
				r.logger.Warn("failed to kill process", zap.Error(err))
			}
		}
		r.Stdin().Close()
		_, waitErr := r.Wait()
		r.CloseOutput()
		r.removeWorkDir()

		if r.Mode == ModePooled {
			r.pool.Release(r.instance, !r.Killed() && waitErr == nil)
		}
	})
}

func (r *Run) removeWorkDir() {
	if err := os.RemoveAll(r.WorkDir); err != nil {
		r.logger.Warn("failed to remove run directory", zap.String("dir", r.WorkDir), zap.Error(err))
	}
}
