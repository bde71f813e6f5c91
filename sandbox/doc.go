// Package sandbox provides isolated execution primitives.
//
// The sandbox package manages a bounded pool of warm, network-isolated
// containers driven through a container CLI (Docker or Podman), and the
// process handles used to run programs either inside a pooled container or
// directly on the host when no container runtime is reachable.
//
// A Pool probes its runtime once at startup. If the runtime is missing the
// pool stays in fallback mode for the lifetime of the process and every
// checkout fails with apperr.SandboxUnavailable, so callers run locally
// instead. Each container mounts only its own directory under the workspace
// root, which is emptied whenever the instance returns to the pool.
//
// Usage:
//
//	pool := sandbox.NewPool(logger, runtime, sandbox.PoolConfig{Size: 3}, nil)
//	if err := pool.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown(context.Background())
//
//	if inst, err := pool.Checkout(ctx, 2*time.Second); err == nil {
//	    runDir, _ := sandbox.Stage(artifactDir, inst.Dir)
//	    cmd := pool.Command(inst, sandbox.ContainerPath(runDir), []string{"java", "-cp", ".", "Main"})
//	    proc, err := sandbox.StartProcess(cmd)
//	    ...
//	    pool.Release(inst, true)
//	}
package sandbox
