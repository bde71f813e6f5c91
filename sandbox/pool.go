package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/metrics"
)

// Checkout results reported to metrics
const (
	CheckoutAcquired  = "acquired"
	CheckoutExhausted = "exhausted"
	CheckoutFallback  = "fallback"
)

// Pool modes
const (
	ModePooled   = "pooled"
	ModeFallback = "fallback"
)

// Instance is a warm sandbox container. Dir is the host directory mounted
// at ContainerWorkspace; no other container can see it.
type Instance struct {
	ID   string
	Name string
	Dir  string
}

// PoolConfig holds configuration for the sandbox pool
type PoolConfig struct {
	Size          int
	ProbeTimeout  time.Duration
	StartTimeout  time.Duration
	StopTimeout   time.Duration
	MaxConcurrent int
	// Container.WorkspaceDir is the root under which every instance gets
	// its own directory.
	Container     ContainerSpec
}

// Pool keeps a bounded set of warm containers. Instances circulate through a
// buffered channel; the tracked map records every live container so shutdown
// can stop them all.
type Pool struct {
	logger  *zap.Logger
	runtime Runtime
	config  PoolConfig
	metrics *metrics.Metrics

	queue     chan Instance
	available atomic.Bool

	mu      sync.Mutex
	tracked map[string]Instance
	closed  bool

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewPool creates a pool. A nil runtime leaves the pool in fallback mode.
func NewPool(logger *zap.Logger, runtime Runtime, config PoolConfig, m *metrics.Metrics) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = 30 * time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 10 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.Container.WorkspaceDir == "" {
		config.Container.WorkspaceDir = filepath.Join(os.TempDir(), "runbox", "workspace")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:   logger,
		runtime:  runtime,
		config:   config,
		metrics:  m,
		queue:    make(chan Instance, config.Size),
		tracked:  make(map[string]Instance),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Start probes the runtime and, when it answers, warms the pool in the
// background. An unreachable runtime is not an error: the pool switches to
// fallback mode for good.
func (p *Pool) Start(ctx context.Context) error {
	if p.runtime == nil {
		p.logger.Info("no container runtime configured, using local execution")
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()
	if err := p.runtime.Probe(probeCtx); err != nil {
		p.logger.Warn("container runtime unavailable, falling back to local execution",
			zap.String("runtime", p.runtime.Name()), zap.Error(err))
		return nil
	}

	p.available.Store(true)
	p.logger.Info("container runtime available, warming sandbox pool",
		zap.String("runtime", p.runtime.Name()),
		zap.Int("size", p.config.Size),
		zap.String("image", p.config.Container.Image))

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.warm()
	}()
	return nil
}

func (p *Pool) warm() {
	var g errgroup.Group
	g.SetLimit(p.config.MaxConcurrent)
	for i := 0; i < p.config.Size; i++ {
		g.Go(func() error {
			p.launch()
			return nil
		})
	}
	_ = g.Wait()
}

// launch starts one container with a private workspace directory and
// enqueues it.
func (p *Pool) launch() {
	spec := p.config.Container
	spec.Name = "runbox-" + uuid.NewString()
	spec.WorkspaceDir = filepath.Join(p.config.Container.WorkspaceDir, spec.Name)

	if err := os.MkdirAll(spec.WorkspaceDir, DirPermission); err != nil {
		p.logger.Error("failed to create sandbox workspace", zap.String("dir", spec.WorkspaceDir), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(p.bgCtx, p.config.StartTimeout)
	defer cancel()

	id, err := p.runtime.Start(ctx, spec)
	if err != nil {
		p.logger.Error("failed to create sandbox container", zap.String("name", spec.Name), zap.Error(err))
		p.removeDir(spec.WorkspaceDir)
		return
	}
	inst := Instance{ID: id, Name: spec.Name, Dir: spec.WorkspaceDir}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.remove(inst)
		return
	}
	p.tracked[id] = inst
	p.mu.Unlock()

	p.logger.Debug("sandbox container ready", zap.String("container", id), zap.String("name", spec.Name))
	p.enqueue(inst)
}

func (p *Pool) enqueue(inst Instance) {
	select {
	case p.queue <- inst:
	default:
		p.logger.Warn("sandbox queue full, discarding container", zap.String("container", inst.ID))
		p.untrack(inst)
		p.remove(inst)
	}
}

// Available reports whether pooled execution is possible at all.
func (p *Pool) Available() bool {
	return p.runtime != nil && p.available.Load()
}

// Mode returns ModePooled or ModeFallback.
func (p *Pool) Mode() string {
	if p.Available() {
		return ModePooled
	}
	return ModeFallback
}

// Idle returns the number of instances waiting in the queue.
func (p *Pool) Idle() int {
	return len(p.queue)
}

// Checkout waits up to wait for an idle instance. The error has code
// SandboxUnavailable when the pool is in fallback mode or no instance became
// free in time.
func (p *Pool) Checkout(ctx context.Context, wait time.Duration) (Instance, error) {
	if !p.Available() {
		p.metrics.Checkout(CheckoutFallback)
		return Instance{}, apperr.New(apperr.SandboxUnavailable, "container runtime unavailable")
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case inst := <-p.queue:
		p.metrics.Checkout(CheckoutAcquired)
		return inst, nil
	case <-timer.C:
		p.metrics.Checkout(CheckoutExhausted)
		return Instance{}, apperr.Newf(apperr.SandboxUnavailable, "no sandbox became free within %s", wait)
	case <-ctx.Done():
		p.metrics.Checkout(CheckoutExhausted)
		return Instance{}, apperr.Wrap(ctx.Err(), apperr.SandboxUnavailable, "sandbox checkout abandoned")
	}
}

// Release returns a healthy instance to the queue after emptying its
// workspace. An unhealthy one is removed before Release returns, so nothing
// it was running survives, and a replacement is launched in the background.
func (p *Pool) Release(inst Instance, healthy bool) {
	if healthy && !p.isClosed() {
		err := clearDir(inst.Dir)
		if err == nil {
			p.enqueue(inst)
			return
		}
		p.logger.Warn("failed to clean sandbox workspace", zap.String("container", inst.ID), zap.Error(err))
	}

	p.mu.Lock()
	_, tracked := p.tracked[inst.ID]
	delete(p.tracked, inst.ID)
	closed := p.closed
	if !closed {
		p.bg.Add(1)
	}
	p.mu.Unlock()

	if closed {
		if tracked {
			p.remove(inst)
		}
		return
	}

	p.logger.Info("discarding sandbox container", zap.String("container", inst.ID))
	p.remove(inst)
	go func() {
		defer p.bg.Done()
		if !p.isClosed() {
			p.launch()
		}
	}()
}

// Command builds the command that runs argv inside inst.
func (p *Pool) Command(inst Instance, workdir string, argv []string) *exec.Cmd {
	args := p.runtime.ExecArgs(inst.ID, workdir, argv)
	return exec.Command(args[0], args[1:]...) //nolint:gosec // Arguments come from configuration and validated input
}

// Shutdown removes every tracked container. Failures are logged only.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.bgCancel()
	p.bg.Wait()
	p.available.Store(false)

	p.mu.Lock()
	instances := make([]Instance, 0, len(p.tracked))
	for _, inst := range p.tracked {
		instances = append(instances, inst)
	}
	p.tracked = make(map[string]Instance)
	p.mu.Unlock()

drain:
	for {
		select {
		case <-p.queue:
		default:
			break drain
		}
	}

	for _, inst := range instances {
		stopCtx, cancel := context.WithTimeout(ctx, p.config.StopTimeout)
		if err := p.runtime.Remove(stopCtx, inst.ID); err != nil {
			p.logger.Warn("failed to stop sandbox container", zap.String("container", inst.ID), zap.Error(err))
		}
		cancel()
		p.removeDir(inst.Dir)
	}
	if len(instances) > 0 {
		p.logger.Info("sandbox pool stopped", zap.Int("containers", len(instances)))
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) untrack(inst Instance) {
	p.mu.Lock()
	delete(p.tracked, inst.ID)
	p.mu.Unlock()
}

func (p *Pool) remove(inst Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.StopTimeout)
	defer cancel()
	if err := p.runtime.Remove(ctx, inst.ID); err != nil {
		p.logger.Warn("failed to remove sandbox container", zap.String("container", inst.ID), zap.Error(err))
	}
	p.removeDir(inst.Dir)
}

func (p *Pool) removeDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("failed to remove sandbox workspace", zap.String("dir", dir), zap.Error(err))
	}
}

// clearDir removes everything inside dir but keeps dir itself, which is
// still bind mounted into the container.
func clearDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to clean %s: %w", dir, err)
		}
	}
	return nil
}
