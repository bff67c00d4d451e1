package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/registry"
)

func registerConnectionTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("connect",
			mcp.WithDescription("Establish an SSH connection to a remote host"),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithNumber("port", mcp.Description("SSH port (default 22)")),
			mcp.WithString("password", mcp.Description("Password authentication")),
			mcp.WithString("privateKey", mcp.Description("PEM-encoded private key")),
			mcp.WithString("passphrase", mcp.Description("Passphrase for an encrypted private key")),
			mcp.WithString("name", mcp.Description("Friendly name for this connection")),
			mcp.WithBoolean("rememberPassword", mcp.Description("Persist the password/passphrase to the credential store (default true)")),
			mcp.WithArray("tags", mcp.Description("Optional labels for this connection")),
		),
		handleConnect(deps),
	)

	s.AddTool(
		mcp.NewTool("disconnect",
			mcp.WithDescription("Close the live transport for a connection without forgetting it"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
		),
		handleDisconnect(deps),
	)

	s.AddTool(
		mcp.NewTool("getConnection",
			mcp.WithDescription("Return the current state of one connection"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
		),
		handleGetConnection(deps),
	)

	s.AddTool(
		mcp.NewTool("deleteConnection",
			mcp.WithDescription("Disconnect, forget, and evict credentials for a connection"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
		),
		handleDeleteConnection(deps),
	)

	s.AddTool(
		mcp.NewTool("listConnections",
			mcp.WithDescription("List every known connection and its state"),
		),
		handleListConnections(deps),
	)
}

func handleConnect(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		host, err := req.RequireString("host")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		username, err := req.RequireString("username")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		env := deps.Config

		var tags []string
		if raw, ok := req.GetArguments()["tags"].([]any); ok {
			for _, t := range raw {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
		}

		cfg := registry.Config{
			Host:             host,
			Port:             req.GetInt("port", env.DefaultSSHPort),
			Username:         username,
			Password:         req.GetString("password", ""),
			PrivateKey:       []byte(req.GetString("privateKey", "")),
			Passphrase:       req.GetString("passphrase", ""),
			Name:             req.GetString("name", ""),
			RememberPassword: req.GetBool("rememberPassword", true),
			Tags:             tags,
			KeepAlive:        30 * time.Second,
			ReadyTimeout:     time.Duration(env.ConnectionTimeoutMs) * time.Millisecond,
			Reconnect: registry.ReconnectPolicy{
				Enabled:  true,
				MaxTries: env.ReconnectAttempts,
				Delay:    time.Duration(env.ReconnectDelayMs) * time.Millisecond,
			},
		}

		conn, err := deps.Registry.Connect(ctx, cfg)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(conn.Snapshot())
	}
}

func handleDisconnect(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deps.Tunnels.CloseAllForConnection(id)
		deps.Terminals.CloseAllForConnection(id)
		deps.Executor.StopBackground(id)
		deps.Bridge.Evict(id)

		if !deps.Registry.Disconnect(id) {
			return mcp.NewToolResultError("unknown connection " + id), nil
		}
		return mcp.NewToolResultText("disconnected " + id), nil
	}
}

func handleGetConnection(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		conn, ok := deps.Registry.Get(id)
		if !ok {
			return mcp.NewToolResultError("unknown connection " + id), nil
		}
		return textResult(conn.Snapshot())
	}
}

func handleDeleteConnection(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deps.Tunnels.CloseAllForConnection(id)
		deps.Terminals.CloseAllForConnection(id)
		deps.Executor.StopBackground(id)
		deps.Bridge.Evict(id)

		if !deps.Registry.Delete(ctx, id) {
			return mcp.NewToolResultError("unknown connection " + id), nil
		}
		return mcp.NewToolResultText("deleted " + id), nil
	}
}

func handleListConnections(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(deps.Registry.List())
	}
}

// textResult renders v as indented JSON, the dispatcher's uniform structured
// text format for every read-style tool.
func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
