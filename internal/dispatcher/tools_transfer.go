package dispatcher

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/transfer"
)

func registerTransferTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("uploadFile",
			mcp.WithDescription("Upload a local file to the remote host over SFTP"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("localPath", mcp.Required(), mcp.Description("Source path on the broker host")),
			mcp.WithString("remotePath", mcp.Required(), mcp.Description("Destination path on the remote host")),
		),
		handleUploadFile(deps),
	)

	s.AddTool(
		mcp.NewTool("downloadFile",
			mcp.WithDescription("Download a remote file over SFTP"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("remotePath", mcp.Required(), mcp.Description("Source path on the remote host")),
			mcp.WithString("localPath", mcp.Description("Destination path on the broker host")),
		),
		handleDownloadFile(deps),
	)

	s.AddTool(
		mcp.NewTool("batchUploadFiles",
			mcp.WithDescription("Upload several local files sequentially"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithArray("files", mcp.Required(), mcp.Description("Array of {localPath, remotePath}")),
		),
		handleBatchTransfer(deps, transfer.DirectionUpload),
	)

	s.AddTool(
		mcp.NewTool("batchDownloadFiles",
			mcp.WithDescription("Download several remote files sequentially"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithArray("files", mcp.Required(), mcp.Description("Array of {localPath, remotePath}")),
		),
		handleBatchTransfer(deps, transfer.DirectionDownload),
	)

	s.AddTool(
		mcp.NewTool("getFileTransferStatus",
			mcp.WithDescription("Return the current record for one transfer"),
			mcp.WithString("transferId", mcp.Required(), mcp.Description("Transfer id")),
		),
		handleGetFileTransferStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("listFileTransfers",
			mcp.WithDescription("List every tracked transfer"),
		),
		handleListFileTransfers(deps),
	)
}

func handleUploadFile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		local, err := req.RequireString("localPath")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		remote, err := req.RequireString("remotePath")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t, err := deps.Transfers.Upload(ctx, connID, local, remote)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(t)
	}
}

func handleDownloadFile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		remote, err := req.RequireString("remotePath")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		local := req.GetString("localPath", "")
		t, err := deps.Transfers.Download(ctx, connID, remote, local)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(t)
	}
}

// handleBatchTransfer extracts the "files" array at the raw-argument
// boundary (mcp-go has no typed helper for arrays of objects) and converts
// each entry to a transfer.BatchItem before handing off to the Transfer
// Manager.
func handleBatchTransfer(deps Deps, direction transfer.Direction) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, ok := req.GetArguments()["files"].([]any)
		if !ok {
			return mcp.NewToolResultError("files: expected an array of {localPath, remotePath}"), nil
		}

		items := make([]transfer.BatchItem, 0, len(raw))
		for _, entry := range raw {
			obj, ok := entry.(map[string]any)
			if !ok {
				return mcp.NewToolResultError("files: each entry must be an object"), nil
			}
			local, _ := obj["localPath"].(string)
			remote, _ := obj["remotePath"].(string)
			items = append(items, transfer.BatchItem{Local: local, Remote: remote})
		}

		result := deps.Transfers.Batch(ctx, connID, items, direction)
		return textResult(result)
	}
}

func handleGetFileTransferStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("transferId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t, ok := deps.Transfers.Get(id)
		if !ok {
			return errorResult(brokererr.New(brokererr.KindTransferFailed, "unknown transfer "+id)), nil
		}
		return textResult(t)
	}
}

func handleListFileTransfers(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(deps.Transfers.List())
	}
}
