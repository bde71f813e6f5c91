package executor

import (
	"context"
	"errors"
	"io"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/entrypoint"
	"github.com/isdmx/runbox/metrics"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
)

// TimeoutMessage is reported when a program or request runs out of time.
const TimeoutMessage = "Execution timed out"

// outputGrace bounds how long output is drained after a kill.
const outputGrace = time.Second

// Executor runs compiled projects.
type Executor struct {
	logger      *zap.Logger
	config      Config
	runTemplate sandbox.Template
	resolver    Resolver
	detector    Detector
	pool        Pool
	metrics     *metrics.Metrics
	sem         *semaphore.Weighted
}

// New creates an executor.
func New(logger *zap.Logger, config Config, resolver Resolver, detector Detector, pool Pool, m *metrics.Metrics) (*Executor, error) {
	tmpl, err := sandbox.ParseTemplate(config.RunCommand)
	if err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 6 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 600 * time.Second
	}
	if config.CheckoutWait <= 0 {
		config.CheckoutWait = 2 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}

	return &Executor{
		logger:      logger,
		config:      config,
		runTemplate: tmpl,
		resolver:    resolver,
		detector:    detector,
		pool:        pool,
		metrics:     m,
		sem:         semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}, nil
}

// Prepared is a compiled project with its entry point. Release must be
// called once the artifact is no longer needed.
type Prepared struct {
	Lease *compilecache.Lease
	Entry string
}

// Artifact returns the compiled artifact.
func (p *Prepared) Artifact() compilecache.Artifact {
	return p.Lease.Artifact()
}

// Release gives back the artifact lease.
func (p *Prepared) Release() {
	p.Lease.Release()
}

// Prepare validates files, compiles them through the cache and determines
// the entry point. An explicit mainClass bypasses detection. The artifact is
// cached even when no entry point is found.
func (e *Executor) Prepare(ctx context.Context, files []project.SourceFile, mainClass string) (*Prepared, error) {
	snapshot, err := project.NewSnapshot(files)
	if err != nil {
		return nil, err
	}

	lease, err := e.resolver.Resolve(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	entry := mainClass
	if entry != "" {
		if !entrypoint.ValidName(entry) {
			lease.Release()
			return nil, apperr.Newf(apperr.InvalidProject, "invalid main class %q", entry)
		}
	} else {
		entry, err = e.detector.Detect(snapshot.Files())
		if err != nil {
			lease.Release()
			return nil, err
		}
	}
	return &Prepared{Lease: lease, Entry: entry}, nil
}

// Run launches entry from artifact, feeds it stdin and collects its merged
// output until it exits or timeout elapses. On timeout the process group is
// killed and the returned error has code ExecutionTimeout; the Result still
// carries the output captured so far.
func (e *Executor) Run(ctx context.Context, artifact compilecache.Artifact, entry, stdin string, timeout time.Duration) (Result, error) {
	result, _, err := e.run(ctx, artifact, entry, stdin, timeout)
	return result, err
}

// run is Run that also reports the mode the program was launched in, or ""
// when it never launched.
func (e *Executor) run(ctx context.Context, artifact compilecache.Artifact, entry, stdin string, timeout time.Duration) (Result, string, error) {
	run, err := e.Launch(ctx, artifact, entry)
	if err != nil {
		return Result{}, "", err
	}
	defer run.Close()
	result, err := e.collect(ctx, run, stdin, timeout)
	return result, run.Mode, err
}

func (e *Executor) collect(ctx context.Context, run *Run, stdin string, timeout time.Duration) (Result, error) {
	output := newOutputBuffer(e.config.MaxOutputBytes)
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if _, err := io.Copy(output, run.Output()); err != nil {
			run.logger.Debug("output stream closed", zap.Error(err))
		}
	}()

	// Input is written on its own goroutine so a program that never reads
	// cannot block the wait below.
	go func() {
		if stdin != "" {
			if _, err := io.WriteString(run.Stdin(), stdin); err != nil {
				run.logger.Debug("failed to write stdin", zap.Error(err))
			}
		}
		run.Stdin().Close()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Output EOF comes first, then the exit status.
	timedOut := !await(ctx, deadline.C, copied) || !await(ctx, deadline.C, run.Done())

	result := Result{WorkingDirectory: run.VisibleDir}
	if timedOut {
		run.logger.Info("execution timed out, killing process", zap.Duration("timeout", timeout))
		if err := run.Kill(); err != nil {
			run.logger.Warn("failed to kill process", zap.Error(err))
		}
		select {
		case <-copied:
		case <-time.After(outputGrace):
			run.CloseOutput()
			<-copied
		}
		result.Stdout = output.String()
		result.Stderr = TimeoutMessage
		result.ExitCode = 1
		return result, apperr.New(apperr.ExecutionTimeout, TimeoutMessage)
	}

	code, err := run.Wait()
	if err != nil {
		return result, apperr.Wrap(err, apperr.InternalError, "failed to wait for process")
	}

	result.Stdout = output.String()
	result.UpdatedFiles = run.UpdatedFiles()
	if code != 0 {
		result.ExitCode = 1
	}
	run.logger.Debug("process exited", zap.Int("exit_code", code))
	return result, nil
}

// Execute handles one request end to end. Concurrency is bounded by the
// worker limit and total handling time by the request timeout; every failure
// is converted into a Result.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.metrics.Execution("none", "timeout", time.Since(start))
		return Result{Stderr: TimeoutMessage, ExitCode: 1}
	}
	defer e.sem.Release(1)

	mode := "none"
	result, err := e.execute(ctx, req, &mode)
	if err != nil {
		result = e.errorResult(err, result)
	}

	e.metrics.Execution(mode, outcome(result, err), time.Since(start))
	return result
}

func (e *Executor) execute(ctx context.Context, req Request, mode *string) (Result, error) {
	prepared, err := e.Prepare(ctx, req.Files, req.MainClass)
	if err != nil {
		return Result{}, err
	}
	defer prepared.Release()

	result, launched, err := e.run(ctx, prepared.Artifact(), prepared.Entry, req.Input, e.config.Timeout)
	if launched != "" {
		*mode = launched
	}
	return result, err
}

// errorResult converts err into a client facing Result. Partial output from
// a timed out run is kept.
func (e *Executor) errorResult(err error, partial Result) Result {
	result := Result{
		Stdout:           partial.Stdout,
		ExitCode:         1,
		WorkingDirectory: partial.WorkingDirectory,
	}
	result.Stderr = ErrorMessage(err)

	switch apperr.CodeOf(err) {
	case apperr.InternalError, apperr.Unknown:
		e.logger.Error("execution failed", zap.Error(err))
	default:
		e.logger.Debug("execution failed", zap.Stringer("code", apperr.CodeOf(err)), zap.Error(err))
	}
	return result
}

// ErrorMessage renders err the way clients see it.
func ErrorMessage(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.NoSourceFiles, apperr.NoEntryPointFound:
		return apperr.MessageOf(err)
	case apperr.CompilationError:
		return "Compilation Error:\n" + apperr.MessageOf(err)
	case apperr.ExecutionTimeout:
		return TimeoutMessage
	case apperr.ProcessLaunchFailure:
		return err.Error()
	case apperr.InvalidProject:
		return "Invalid project: " + apperr.MessageOf(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimeoutMessage
	}
	return "Internal Server Error: " + err.Error()
}

// await reports whether ch closed before the deadline or ctx expired.
func await(ctx context.Context, deadline <-chan time.Time, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

func outcome(result Result, err error) string {
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		return "timeout"
	case err != nil:
		return apperr.CodeOf(err).String()
	case result.ExitCode != 0:
		return "failure"
	default:
		return "success"
	}
}
