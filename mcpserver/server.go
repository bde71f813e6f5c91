package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/executor"
	"github.com/isdmx/runbox/project"
)

// ToolName is the name of the execution tool.
const ToolName = "execute_java_project"

// Executor runs one-shot requests.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) executor.Result
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   Executor
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	serving    atomic.Bool
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, exec Executor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger.Named("mcp"),
		executor: exec,
	}

	s.mcpServer = server.NewMCPServer("runbox", "1.0.0", server.WithToolCapabilities(false))
	s.registerExecuteJavaProjectTool()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

// registerExecuteJavaProjectTool registers the execute_java_project tool
func (s *MCPServer) registerExecuteJavaProjectTool() {
	tool := mcp.Tool{
		Name:        ToolName,
		Description: "Compile a multi-file Java project and run it in a sandbox. Returns stdout, stderr and exit code as JSON.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"files": map[string]any{
					"type":        "array",
					"description": "Project source files",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"path":    map[string]any{"type": "string", "description": "Path relative to the project root"},
							"content": map[string]any{"type": "string", "description": "File content"},
						},
						"required": []string{"path", "content"},
					},
				},
				"input": map[string]any{
					"type":        "string",
					"description": "Text written to the program's standard input (optional)",
				},
				"mainClass": map[string]any{
					"type":        "string",
					"description": "Fully qualified main class; detected from the sources when omitted",
				},
			},
			Required: []string{"files"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteJavaProject)
}

// handleExecuteJavaProject handles the execute_java_project tool
func (s *MCPServer) handleExecuteJavaProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := parseFiles(request.GetArguments()["files"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	req := executor.Request{
		Files:     files,
		Input:     request.GetString("input", ""),
		MainClass: request.GetString("mainClass", ""),
	}
	s.logger.Info("execution requested",
		zap.Int("files", len(req.Files)),
		zap.String("main_class", req.MainClass),
		zap.Bool("has_input", req.Input != ""))

	result := s.executor.Execute(ctx, req)

	s.logger.Info("execution completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

func parseFiles(raw any) ([]project.SourceFile, error) {
	if raw == nil {
		return nil, fmt.Errorf("files parameter is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid files parameter: %w", err)
	}
	var files []project.SourceFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("invalid files parameter: %w", err)
	}
	return files, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.serving.Store(true)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if !s.serving.Load() {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
