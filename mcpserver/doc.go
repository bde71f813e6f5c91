// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes a single tool, execute_java_project, which compiles and
// runs a project through the executor and returns the execution result as
// JSON text. It uses the mark3labs/mcp-go library for the protocol and
// supports the stdio and streamable HTTP transports.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
