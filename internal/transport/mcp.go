package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kayz/tavern/internal/engine"
	"github.com/kayz/tavern/internal/promptbuild"
)

// MCPServer exposes generation as MCP tools over stdio.
type MCPServer struct {
	exec    *engine.Executor
	version string
}

// NewMCPServer wires an MCP stdio server around an executor.
func NewMCPServer(exec *engine.Executor, version string) *MCPServer {
	return &MCPServer{exec: exec, version: version}
}

// Serve blocks serving stdio until the client disconnects.
func (s *MCPServer) Serve() error {
	srv := server.NewMCPServer("tavern", s.version)

	srv.AddTool(mcp.NewTool("generate",
		mcp.WithDescription("Assemble a prompt from the active character and generate a reply"),
		mcp.WithString("input", mcp.Required(), mcp.Description("User input for this turn")),
		mcp.WithBoolean("use_preset", mcp.Description("Delegate assembly to the configured preset composer")),
		mcp.WithNumber("max_chat_history", mcp.Description("Cap on history entries considered, newest kept")),
	), s.generate)

	srv.AddTool(mcp.NewTool("generate_raw",
		mcp.WithDescription("Send a single prompt verbatim, skipping assembly"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text sent as the sole user turn")),
	), s.generateRaw)

	srv.AddTool(mcp.NewTool("stop",
		mcp.WithDescription("Abort the in-flight generation, if any"),
	), s.stop)

	return server.ServeStdio(srv)
}

func (s *MCPServer) generate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, ok := req.Params.Arguments["input"].(string)
	if !ok || input == "" {
		return mcp.NewToolResultError("input is required"), nil
	}

	genReq := promptbuild.Request{UserInput: input}
	if v, ok := req.Params.Arguments["use_preset"].(bool); ok {
		genReq.UsePreset = v
	}
	if v, ok := req.Params.Arguments["max_chat_history"].(float64); ok {
		genReq.MaxChatHistory = int(v)
	}

	text, err := s.exec.Generate(ctx, genReq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPServer) generateRaw(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, ok := req.Params.Arguments["prompt"].(string)
	if !ok || prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	text, err := s.exec.GenerateRaw(ctx, prompt, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPServer) stop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.exec.Aborts().StopCurrent() {
		return mcp.NewToolResultError("no generation in progress"), nil
	}
	return mcp.NewToolResultText("stopped"), nil
}
