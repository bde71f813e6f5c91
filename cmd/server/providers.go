package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/entrypoint"
	"github.com/isdmx/runbox/executor"
	"github.com/isdmx/runbox/httpserver"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/metrics"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/terminal"
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newFingerprinter(cfg *config.Config) (*project.Fingerprinter, error) {
	return project.NewFingerprinter(cfg.Cache.Fingerprint)
}

func newPool(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*sandbox.Pool, error) {
	runtime, err := sandbox.NewRuntime(logger, cfg.Sandbox.Backend)
	if err != nil {
		return nil, err
	}
	return sandbox.NewPool(logger.Named("sandbox"), runtime, sandbox.PoolConfig{
		Size:          cfg.Sandbox.PoolSize,
		ProbeTimeout:  cfg.GetProbeTimeout(),
		StartTimeout:  cfg.GetStartTimeout(),
		StopTimeout:   cfg.GetStopTimeout(),
		MaxConcurrent: cfg.Sandbox.MaxConcurrentStarts,
		Container: sandbox.ContainerSpec{
			Image:          cfg.Sandbox.Image,
			WorkspaceDir:   cfg.Sandbox.WorkspaceDir,
			CPUs:           cfg.Sandbox.CPUs,
			MemoryMB:       cfg.Sandbox.MemoryMB,
			TmpfsMB:        cfg.Sandbox.TmpfsMB,
			NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		},
	}, m), nil
}

func newCache(cfg *config.Config, logger *zap.Logger, fp *project.Fingerprinter, m *metrics.Metrics) (*compilecache.Cache, error) {
	compiler, err := compilecache.NewCommandCompiler(logger.Named("compiler"),
		cfg.Language.CompileCmd, cfg.Language.SourceExtension, sandbox.RealCommandRunner{})
	if err != nil {
		return nil, err
	}
	return compilecache.New(logger.Named("cache"), compilecache.Config{
		RootDir:        cfg.Cache.Dir,
		MaxEntries:     cfg.Cache.MaxEntries,
		CompileTimeout: cfg.GetCompileTimeout(),
	}, fp, compiler, sandbox.RealFileSystem{}, m)
}

func newExecutor(cfg *config.Config, logger *zap.Logger, cache *compilecache.Cache, pool *sandbox.Pool, m *metrics.Metrics) (*executor.Executor, error) {
	return executor.New(logger.Named("executor"), executor.Config{
		WorkspaceDir:   cfg.Sandbox.WorkspaceDir,
		RunCommand:     cfg.Language.RunCmd,
		Timeout:        cfg.GetTimeout(),
		RequestTimeout: cfg.GetRequestTimeout(),
		CheckoutWait:   cfg.GetCheckoutWait(),
		MaxConcurrent:  cfg.Execution.MaxConcurrent,
		MaxOutputBytes: cfg.Execution.MaxOutputKB * 1024,
		ChangeExcludes: cfg.Execution.ChangeExcludes,
	}, cache, entrypoint.NewJavaDetector(), pool, m)
}

func newTerminal(cfg *config.Config, logger *zap.Logger, exec *executor.Executor, m *metrics.Metrics) *terminal.Manager {
	return terminal.NewManager(logger.Named("terminal"), terminal.Config{
		InputQueue:  cfg.Terminal.InputQueue,
		ChunkSize:   cfg.Terminal.ChunkSize,
		OutputGrace: cfg.GetOutputGrace(),
	}, exec, terminal.NewRegistry(), m)
}

func newHTTPServer(cfg *config.Config, logger *zap.Logger, exec *executor.Executor, sessions *terminal.Manager, pool *sandbox.Pool, reg *prometheus.Registry) *httpserver.Server {
	return httpserver.New(logger, httpserver.Config{
		Address:        cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, exec, sessions, pool, reg)
}

func newMCPServer(cfg *config.Config, logger *zap.Logger, exec *executor.Executor) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, logger, exec)
}
