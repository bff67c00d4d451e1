package dispatcher

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/tunnel"
)

func registerTunnelTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("createTunnel",
			mcp.WithDescription("Bind a local TCP listener forwarded through the SSH transport"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithNumber("localPort", mcp.Required(), mcp.Description("Local TCP port to bind")),
			mcp.WithString("remoteHost", mcp.Required(), mcp.Description("Remote host as seen from the SSH peer")),
			mcp.WithNumber("remotePort", mcp.Required(), mcp.Description("Remote TCP port")),
			mcp.WithString("description", mcp.Description("Free-text label for this tunnel")),
		),
		handleCreateTunnel(deps),
	)

	s.AddTool(
		mcp.NewTool("closeTunnel",
			mcp.WithDescription("Tear down a tunnel and every live socket pair it owns"),
			mcp.WithString("tunnelId", mcp.Required(), mcp.Description("Tunnel id")),
		),
		handleCloseTunnel(deps),
	)

	s.AddTool(
		mcp.NewTool("listTunnels",
			mcp.WithDescription("List every active tunnel"),
		),
		handleListTunnels(deps),
	)
}

func handleCreateTunnel(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		remoteHost, err := req.RequireString("remoteHost")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		t, err := deps.Tunnels.CreateTunnel(tunnel.CreateTunnelRequest{
			ConnectionID: connID,
			LocalPort:    req.GetInt("localPort", 0),
			RemoteHost:   remoteHost,
			RemotePort:   req.GetInt("remotePort", 0),
			Description:  req.GetString("description", ""),
		})
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(t.ID), nil
	}
}

func handleCloseTunnel(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("tunnelId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !deps.Tunnels.CloseTunnel(id) {
			return mcp.NewToolResultError("unknown tunnel " + id), nil
		}
		return mcp.NewToolResultText("closed " + id), nil
	}
}

func handleListTunnels(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(deps.Tunnels.List())
	}
}
