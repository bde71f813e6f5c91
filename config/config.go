package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Language  LanguageConfig  `mapstructure:"language"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Address            string   `mapstructure:"address"`
	MCPTransport       string   `mapstructure:"mcp_transport"`
	MCPPort            int      `mapstructure:"mcp_port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
}

// SandboxConfig holds sandbox pool configuration
type SandboxConfig struct {
	Backend             string  `mapstructure:"backend"`
	EnableLocalBackend  bool    `mapstructure:"enable_local_backend"`
	Image               string  `mapstructure:"image"`
	PoolSize            int     `mapstructure:"pool_size"`
	CPUs                float64 `mapstructure:"cpus"`
	MemoryMB            int     `mapstructure:"memory_mb"`
	TmpfsMB             int     `mapstructure:"tmpfs_mb"`
	NetworkEnabled      bool    `mapstructure:"network_enabled"`
	WorkspaceDir        string  `mapstructure:"workspace_dir"`
	CheckoutWaitMs      int     `mapstructure:"checkout_wait_ms"`
	ProbeTimeoutSec     int     `mapstructure:"probe_timeout_sec"`
	StartTimeoutSec     int     `mapstructure:"start_timeout_sec"`
	StopTimeoutSec      int     `mapstructure:"stop_timeout_sec"`
	MaxConcurrentStarts int     `mapstructure:"max_concurrent_starts"`
}

// ExecutionConfig holds one-shot execution limits
type ExecutionConfig struct {
	TimeoutSec        int      `mapstructure:"timeout_sec"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	MaxConcurrent     int      `mapstructure:"max_concurrent"`
	MaxOutputKB       int      `mapstructure:"max_output_kb"`
	ChangeExcludes    []string `mapstructure:"change_excludes"`
}

// CacheConfig holds compilation cache configuration
type CacheConfig struct {
	Dir               string `mapstructure:"dir"`
	MaxEntries        int    `mapstructure:"max_entries"`
	CompileTimeoutSec int    `mapstructure:"compile_timeout_sec"`
	Fingerprint       string `mapstructure:"fingerprint"`
}

// LanguageConfig holds the compile and run commands. Commands are templates:
// {out} and {sources} in the compile command, {classpath} and {entry} in the
// run command.
type LanguageConfig struct {
	SourceExtension string `mapstructure:"source_extension"`
	CompileCmd      string `mapstructure:"compile_cmd"`
	RunCmd          string `mapstructure:"run_cmd"`
}

// TerminalConfig holds interactive session configuration
type TerminalConfig struct {
	InputQueue    int `mapstructure:"input_queue"`
	ChunkSize     int `mapstructure:"chunk_size"`
	OutputGraceMs int `mapstructure:"output_grace_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Options controls where configuration is loaded from.
type Options struct {
	// Path is an explicit config file. When empty, config.yaml is searched
	// in . and ./config and may be absent.
	Path string
}

// EnvPrefix prefixes environment overrides, e.g. RUNBOX_SANDBOX_BACKEND.
const EnvPrefix = "RUNBOX"

// New loads and validates the application configuration
func New(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.Path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			// If config file not found, continue with defaults
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	base := filepath.Join(os.TempDir(), "runbox")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mcp_transport", "none")
	v.SetDefault("server.mcp_port", 8081)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_sec", 10)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.image", "eclipse-temurin:21-jdk")
	v.SetDefault("sandbox.pool_size", 4)
	v.SetDefault("sandbox.cpus", 0.5)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.tmpfs_mb", 64)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.workspace_dir", filepath.Join(base, "workspace"))
	v.SetDefault("sandbox.checkout_wait_ms", 2000)
	v.SetDefault("sandbox.probe_timeout_sec", 5)
	v.SetDefault("sandbox.start_timeout_sec", 60)
	v.SetDefault("sandbox.stop_timeout_sec", 10)
	v.SetDefault("sandbox.max_concurrent_starts", 2)

	v.SetDefault("execution.timeout_sec", 6)
	v.SetDefault("execution.request_timeout_sec", 600)
	v.SetDefault("execution.max_concurrent", 0)
	v.SetDefault("execution.max_output_kb", 1024)
	v.SetDefault("execution.change_excludes", []string{"*.class"})

	v.SetDefault("cache.dir", filepath.Join(base, "cache"))
	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("cache.compile_timeout_sec", 60)
	v.SetDefault("cache.fingerprint", "sha256")

	v.SetDefault("language.source_extension", ".java")
	v.SetDefault("language.compile_cmd", "javac -encoding UTF-8 -d {out} {sources}")
	v.SetDefault("language.run_cmd", "java -cp {classpath} {entry}")

	v.SetDefault("terminal.input_queue", 64)
	v.SetDefault("terminal.chunk_size", 4096)
	v.SetDefault("terminal.output_grace_ms", 1000)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.MCPTransport {
	case "none", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be 'none', 'stdio' or 'http'", c.Server.MCPTransport)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	if c.Server.MCPPort <= 0 || c.Server.MCPPort > 65535 {
		return fmt.Errorf("server.mcp_port must be between 1 and 65535, got: %d", c.Server.MCPPort)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.PoolSize <= 0 {
		return fmt.Errorf("sandbox.pool_size must be positive, got: %d", c.Sandbox.PoolSize)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %g", c.Sandbox.CPUs)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.WorkspaceDir == "" {
		return fmt.Errorf("sandbox.workspace_dir must not be empty")
	}

	if c.Execution.TimeoutSec <= 0 {
		return fmt.Errorf("execution.timeout_sec must be positive, got: %d", c.Execution.TimeoutSec)
	}

	if c.Execution.RequestTimeoutSec < c.Execution.TimeoutSec {
		return fmt.Errorf("execution.request_timeout_sec must be at least execution.timeout_sec, got: %d", c.Execution.RequestTimeoutSec)
	}

	if c.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent must not be negative, got: %d", c.Execution.MaxConcurrent)
	}

	if c.Execution.MaxOutputKB <= 0 {
		return fmt.Errorf("execution.max_output_kb must be positive, got: %d", c.Execution.MaxOutputKB)
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must not be empty")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got: %d", c.Cache.MaxEntries)
	}

	if c.Cache.CompileTimeoutSec <= 0 {
		return fmt.Errorf("cache.compile_timeout_sec must be positive, got: %d", c.Cache.CompileTimeoutSec)
	}

	if c.Cache.Fingerprint != "sha256" && c.Cache.Fingerprint != "blake3" {
		return fmt.Errorf("invalid cache.fingerprint: %s, must be 'sha256' or 'blake3'", c.Cache.Fingerprint)
	}

	if !strings.HasPrefix(c.Language.SourceExtension, ".") {
		return fmt.Errorf("language.source_extension must start with '.', got: %q", c.Language.SourceExtension)
	}

	if !strings.Contains(c.Language.CompileCmd, "{sources}") {
		return fmt.Errorf("language.compile_cmd must reference {sources}, got: %q", c.Language.CompileCmd)
	}

	if !strings.Contains(c.Language.RunCmd, "{entry}") {
		return fmt.Errorf("language.run_cmd must reference {entry}, got: %q", c.Language.RunCmd)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSec) * time.Second
}

// GetRequestTimeout returns the one-shot request ceiling as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Execution.RequestTimeoutSec) * time.Second
}

// GetCompileTimeout returns the compile timeout as a duration
func (c *Config) GetCompileTimeout() time.Duration {
	return time.Duration(c.Cache.CompileTimeoutSec) * time.Second
}

// GetCheckoutWait returns how long to wait for a free sandbox
func (c *Config) GetCheckoutWait() time.Duration {
	return time.Duration(c.Sandbox.CheckoutWaitMs) * time.Millisecond
}

// GetShutdownTimeout returns the graceful shutdown budget
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// GetOutputGrace returns how long session output is drained after exit
func (c *Config) GetOutputGrace() time.Duration {
	return time.Duration(c.Terminal.OutputGraceMs) * time.Millisecond
}

// GetProbeTimeout returns the runtime availability probe timeout
func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Sandbox.ProbeTimeoutSec) * time.Second
}

// GetStartTimeout returns the per-container start timeout
func (c *Config) GetStartTimeout() time.Duration {
	return time.Duration(c.Sandbox.StartTimeoutSec) * time.Second
}

// GetStopTimeout returns the per-container stop timeout
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Sandbox.StopTimeoutSec) * time.Second
}
