package dispatcher

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/ptysession"
)

func registerTerminalTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("createTerminalSession",
			mcp.WithDescription("Open an interactive PTY shell session"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithNumber("rows", mcp.Description("PTY rows (default 24)")),
			mcp.WithNumber("cols", mcp.Description("PTY columns (default 80)")),
			mcp.WithString("term", mcp.Description("TERM value (default xterm-256color)")),
		),
		handleCreateTerminalSession(deps),
	)

	s.AddTool(
		mcp.NewTool("writeToTerminal",
			mcp.WithDescription("Write bytes to an open terminal session"),
			mcp.WithString("sessionId", mcp.Required(), mcp.Description("Terminal session id")),
			mcp.WithString("data", mcp.Required(), mcp.Description("Bytes to write, as a string")),
		),
		handleWriteToTerminal(deps),
	)
}

func handleCreateTerminalSession(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		id, err := deps.Terminals.Create(ctx, connID, ptysession.CreateOptions{
			Rows: req.GetInt("rows", 0),
			Cols: req.GetInt("cols", 0),
			Term: req.GetString("term", ""),
		})
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(id), nil
	}
}

func handleWriteToTerminal(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("sessionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := req.RequireString("data")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := deps.Terminals.Write(sessionID, []byte(data)); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("true"), nil
	}
}
