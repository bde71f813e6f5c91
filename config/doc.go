// Package config provides application configuration management.
//
// Configuration is read from a YAML file and RUNBOX_ prefixed environment
// variables on top of built-in defaults, then validated. Sections cover the
// HTTP and MCP servers, the sandbox pool, execution limits, the compilation
// cache, the language toolchain commands, terminal sessions and logging.
//
// Usage:
//
//	cfg, err := config.New(config.Options{Path: "config.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
