package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/entrypoint"
	"github.com/isdmx/runbox/executor"
	"github.com/isdmx/runbox/httpserver"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/metrics"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/terminal"
)

// scriptDetector treats main.sh as the entry point so the stack can be
// exercised with a POSIX shell instead of a JDK.
type scriptDetector struct{}

func (scriptDetector) Detect(files []project.SourceFile) (string, error) {
	for _, f := range files {
		if f.Path == "main.sh" {
			return "main.sh", nil
		}
	}
	return "", apperr.New(apperr.NoEntryPointFound, entrypoint.NoMainMessage)
}

// loadConfig writes overrides as YAML and loads them through config.New.
func loadConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	data, err := yaml.Marshal(overrides)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "runbox.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := config.New(config.Options{Path: path})
	require.NoError(t, err)
	return cfg
}

type stack struct {
	exec     *executor.Executor
	pool     *sandbox.Pool
	cache    *compilecache.Cache
	sessions *terminal.Manager
	registry *prometheus.Registry
}

// buildStack wires the components the way cmd/server does.
func buildStack(t *testing.T, cfg *config.Config, log *zap.Logger, detector executor.Detector) *stack {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	runtime, err := sandbox.NewRuntime(log, cfg.Sandbox.Backend)
	require.NoError(t, err)
	pool := sandbox.NewPool(log, runtime, sandbox.PoolConfig{Size: cfg.Sandbox.PoolSize}, m)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	fp, err := project.NewFingerprinter(cfg.Cache.Fingerprint)
	require.NoError(t, err)
	compiler, err := compilecache.NewCommandCompiler(log, cfg.Language.CompileCmd, cfg.Language.SourceExtension, sandbox.RealCommandRunner{})
	require.NoError(t, err)
	cache, err := compilecache.New(log, compilecache.Config{
		RootDir:        cfg.Cache.Dir,
		MaxEntries:     cfg.Cache.MaxEntries,
		CompileTimeout: cfg.GetCompileTimeout(),
	}, fp, compiler, sandbox.RealFileSystem{}, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	ex, err := executor.New(log, executor.Config{
		WorkspaceDir:   cfg.Sandbox.WorkspaceDir,
		RunCommand:     cfg.Language.RunCmd,
		Timeout:        cfg.GetTimeout(),
		RequestTimeout: cfg.GetRequestTimeout(),
		CheckoutWait:   cfg.GetCheckoutWait(),
		MaxConcurrent:  cfg.Execution.MaxConcurrent,
		MaxOutputBytes: cfg.Execution.MaxOutputKB * 1024,
		ChangeExcludes: cfg.Execution.ChangeExcludes,
	}, cache, detector, pool, m)
	require.NoError(t, err)

	sessions := terminal.NewManager(log, terminal.Config{OutputGrace: cfg.GetOutputGrace()}, ex, terminal.NewRegistry(), m)
	t.Cleanup(sessions.Shutdown)

	return &stack{exec: ex, pool: pool, cache: cache, sessions: sessions, registry: reg}
}

func localOverrides(t *testing.T) map[string]any {
	dir := t.TempDir()
	return map[string]any{
		"sandbox": map[string]any{
			"backend":              "local",
			"enable_local_backend": true,
			"workspace_dir":        filepath.Join(dir, "workspace"),
		},
		"cache": map[string]any{
			"dir": filepath.Join(dir, "cache"),
		},
		"logging": map[string]any{
			"mode":  "development",
			"level": "debug",
		},
	}
}

func TestIntegrationConfigAndLogger(t *testing.T) {
	cfg := loadConfig(t, localOverrides(t))
	assert.Equal(t, "local", cfg.Sandbox.Backend)

	log, err := logger.NewFromConfig(cfg)
	require.NoError(t, err)
	log.Info("Integration test started")
	_ = log.Sync()
}

func TestIntegrationShellProject(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	overrides := localOverrides(t)
	overrides["language"] = map[string]any{
		"source_extension": ".sh",
		"compile_cmd":      "sh -n {sources}",
		"run_cmd":          "sh {entry}",
	}
	cfg := loadConfig(t, overrides)
	s := buildStack(t, cfg, zaptest.NewLogger(t), scriptDetector{})

	t.Run("OneShot", func(t *testing.T) {
		result := s.exec.Execute(context.Background(), executor.Request{
			Files: []project.SourceFile{
				{Path: "main.sh", Content: "read name\necho \"hello $name\"\necho saved > out.txt\n"},
			},
			Input: "runbox\n",
		})
		assert.Equal(t, 0, result.ExitCode, result.Stderr)
		assert.Equal(t, "hello runbox\n", result.Stdout)
		require.Len(t, result.UpdatedFiles, 1)
		assert.Equal(t, "out.txt", result.UpdatedFiles[0].Path)
		assert.Equal(t, sandbox.ModeFallback, s.pool.Mode())
		assert.Equal(t, 1, s.cache.Len())
	})

	t.Run("CompilationError", func(t *testing.T) {
		result := s.exec.Execute(context.Background(), executor.Request{
			Files: []project.SourceFile{{Path: "main.sh", Content: "if then\n"}},
		})
		assert.Equal(t, 1, result.ExitCode)
		assert.True(t, strings.HasPrefix(result.Stderr, "Compilation Error:\n"), result.Stderr)
	})

	t.Run("HTTP", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		server := httpserver.New(zaptest.NewLogger(t), httpserver.Config{Address: "127.0.0.1:0", AllowedOrigins: cfg.Server.AllowedOrigins},
			s.exec, s.sessions, s.pool, s.registry)

		body := `{"files":[{"path":"main.sh","content":"echo via http"}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/execute/java", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result executor.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "via http\n", result.Stdout)
	})

	t.Run("MCPServerCreation", func(t *testing.T) {
		server, err := mcpserver.New(cfg, zaptest.NewLogger(t), s.exec)
		require.NoError(t, err)
		assert.NotNil(t, server.GetMCPServer())
	})
}

func TestIntegrationJavaProject(t *testing.T) {
	for _, tool := range []string{"javac", "java"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	cfg := loadConfig(t, localOverrides(t))
	s := buildStack(t, cfg, zaptest.NewLogger(t), entrypoint.NewJavaDetector())

	result := s.exec.Execute(context.Background(), executor.Request{
		Files: []project.SourceFile{
			{Path: "com/example/Greeter.java", Content: "package com.example;\npublic class Greeter {\n  public static String greet(String n) { return \"Hello, \" + n; }\n}\n"},
			{Path: "com/example/App.java", Content: "package com.example;\npublic class App {\n  public static void main(String[] args) {\n    System.out.println(Greeter.greet(new java.util.Scanner(System.in).nextLine()));\n  }\n}\n"},
		},
		Input: "Java\n",
	})
	require.Equal(t, 0, result.ExitCode, result.Stderr)
	assert.Equal(t, "Hello, Java\n", result.Stdout)
	assert.Empty(t, result.UpdatedFiles)
}
