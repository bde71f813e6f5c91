package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/apperr"
)

// fakeRuntime implements Runtime for pool tests
type fakeRuntime struct {
	mu          sync.Mutex
	probeErr    error
	startErr    error
	removeDelay time.Duration
	next        int
	running     map[string]bool
	specs       map[string]ContainerSpec
	removed     []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[string]bool), specs: make(map[string]ContainerSpec)}
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Probe(context.Context) error { return f.probeErr }

func (f *fakeRuntime) Start(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	id := fmt.Sprintf("c%d", f.next)
	f.running[id] = true
	f.specs[id] = spec
	return id, nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	time.Sleep(f.removeDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) ExecArgs(id, workdir string, argv []string) []string {
	return append([]string{"fake", "exec", id, workdir}, argv...)
}

func (f *fakeRuntime) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

func (f *fakeRuntime) Started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *fakeRuntime) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeRuntime) Spec(id string) ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[id]
}

func poolConfig(t *testing.T, size int) PoolConfig {
	return PoolConfig{Size: size, Container: ContainerSpec{WorkspaceDir: t.TempDir()}}
}

func startedPool(t *testing.T, rt Runtime, size int) *Pool {
	t.Helper()
	pool := NewPool(zaptest.NewLogger(t), rt, poolConfig(t, size), nil)
	require.NoError(t, pool.Start(context.Background()))
	return pool
}

func TestPoolFallback(t *testing.T) {
	t.Run("NoRuntime", func(t *testing.T) {
		pool := NewPool(zaptest.NewLogger(t), nil, poolConfig(t, 2), nil)
		require.NoError(t, pool.Start(context.Background()))
		assert.False(t, pool.Available())
		assert.Equal(t, ModeFallback, pool.Mode())

		_, err := pool.Checkout(context.Background(), time.Second)
		assert.True(t, apperr.Is(err, apperr.SandboxUnavailable), err)
		pool.Shutdown(context.Background())
	})

	t.Run("ProbeFails", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.probeErr = errors.New("daemon down")
		pool := startedPool(t, rt, 2)
		defer pool.Shutdown(context.Background())

		assert.False(t, pool.Available())
		start := time.Now()
		_, err := pool.Checkout(context.Background(), time.Second)
		assert.True(t, apperr.Is(err, apperr.SandboxUnavailable), err)
		assert.Less(t, time.Since(start), 500*time.Millisecond, "fallback checkout must not wait")
		assert.Zero(t, rt.Started())
	})
}

func TestPoolCheckoutRelease(t *testing.T) {
	rt := newFakeRuntime()
	pool := startedPool(t, rt, 2)

	require.True(t, pool.Available())
	assert.Equal(t, ModePooled, pool.Mode())
	require.Eventually(t, func() bool { return pool.Idle() == 2 }, 2*time.Second, 10*time.Millisecond)

	first, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)
	second, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	t.Run("ExhaustedAfterWait", func(t *testing.T) {
		start := time.Now()
		_, err := pool.Checkout(context.Background(), 100*time.Millisecond)
		assert.True(t, apperr.Is(err, apperr.SandboxUnavailable), err)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := pool.Checkout(ctx, time.Minute)
		assert.True(t, apperr.Is(err, apperr.SandboxUnavailable), err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("HealthyReturnsToQueue", func(t *testing.T) {
		pool.Release(first, true)
		again, err := pool.Checkout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		first = again
	})

	t.Run("UnhealthyIsReplaced", func(t *testing.T) {
		pool.Release(second, false)
		require.Eventually(t, func() bool { return pool.Idle() == 1 }, 2*time.Second, 10*time.Millisecond)
		replacement, err := pool.Checkout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.NotEqual(t, second.ID, replacement.ID)
		assert.Contains(t, rt.Removed(), second.ID)
		pool.Release(replacement, true)
	})

	pool.Release(first, true)
	pool.Shutdown(context.Background())
	assert.Zero(t, rt.Running(), "shutdown must stop every container")
	assert.False(t, pool.Available())
}

func TestPoolInstanceWorkspaces(t *testing.T) {
	rt := newFakeRuntime()
	config := poolConfig(t, 2)
	root := config.Container.WorkspaceDir
	pool := NewPool(zaptest.NewLogger(t), rt, config, nil)
	require.NoError(t, pool.Start(context.Background()))
	require.Eventually(t, func() bool { return pool.Idle() == 2 }, 2*time.Second, 10*time.Millisecond)

	a, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)
	b, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	t.Run("PrivateMounts", func(t *testing.T) {
		assert.NotEqual(t, a.Dir, b.Dir)
		for _, inst := range []Instance{a, b} {
			assert.Equal(t, root, filepath.Dir(inst.Dir))
			assert.Equal(t, inst.Dir, rt.Spec(inst.ID).WorkspaceDir, "only the instance directory is mounted")
			assert.DirExists(t, inst.Dir)
		}
	})

	t.Run("HealthyReleaseEmptiesWorkspace", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "leftover.txt"), []byte("secret"), 0o600))
		require.NoError(t, os.MkdirAll(filepath.Join(a.Dir, "run-old", "nested"), DirPermission))

		pool.Release(a, true)
		again, err := pool.Checkout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, a.ID, again.ID)
		entries, err := os.ReadDir(again.Dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
		a = again
	})

	t.Run("UnhealthyReleaseRemovesWorkspace", func(t *testing.T) {
		pool.Release(b, false)
		assert.NoDirExists(t, b.Dir)
	})

	pool.Release(a, true)
	pool.Shutdown(context.Background())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "shutdown removes every instance workspace")
}

func TestPoolUnhealthyReleaseWaitsForRemoval(t *testing.T) {
	rt := newFakeRuntime()
	rt.removeDelay = 200 * time.Millisecond
	pool := startedPool(t, rt, 1)
	defer pool.Shutdown(context.Background())
	require.Eventually(t, func() bool { return pool.Idle() == 1 }, 2*time.Second, 10*time.Millisecond)

	inst, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	start := time.Now()
	pool.Release(inst, false)
	assert.GreaterOrEqual(t, time.Since(start), rt.removeDelay)
	assert.Equal(t, []string{inst.ID}, rt.Removed(), "the container is gone when Release returns")
	require.Eventually(t, func() bool { return pool.Idle() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPoolReleaseAfterShutdown(t *testing.T) {
	rt := newFakeRuntime()
	pool := startedPool(t, rt, 1)
	require.Eventually(t, func() bool { return pool.Idle() == 1 }, 2*time.Second, 10*time.Millisecond)

	inst, err := pool.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	pool.Shutdown(context.Background())
	pool.Release(inst, true)
	pool.Release(inst, false)

	assert.Zero(t, rt.Running())
	assert.Equal(t, 1, rt.Started(), "no replacement after shutdown")
}

func TestPoolStartFailuresAreNotFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.New("image missing")
	config := poolConfig(t, 2)
	pool := NewPool(zaptest.NewLogger(t), rt, config, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Shutdown(context.Background())

	assert.True(t, pool.Available())
	_, err := pool.Checkout(context.Background(), 50*time.Millisecond)
	assert.True(t, apperr.Is(err, apperr.SandboxUnavailable), err)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(config.Container.WorkspaceDir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond, "failed starts leave no workspace behind")
}

func TestPoolCommand(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), newFakeRuntime(), poolConfig(t, 1), nil)
	cmd := pool.Command(Instance{ID: "c9"}, "/workspace/run-x", []string{"java", "Main"})
	assert.Equal(t, []string{"fake", "exec", "c9", "/workspace/run-x", "java", "Main"}, cmd.Args)
}
