package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/studiosync/studiosync/internal/blocks"
	"github.com/studiosync/studiosync/internal/storage"
	"github.com/studiosync/studiosync/internal/workspace"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Workspace *workspace.Store
}

// NewMCPServer exposes the delivery queue and workspace state as MCP tools,
// so agent frontends can enqueue work and inspect plugin state without going
// through the HTTP surface. Every tool is user-scoped; there is no implicit
// current user.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"studiosync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("studiosync: delivery queue bridging generated Roblox work to the Studio plugin."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("push_work_item",
			mcp.WithDescription("Validate a script or part payload and enqueue it for the user's Studio plugin."),
			mcp.WithString("user_id", mcp.Description("Queue owner"), mcp.Required()),
			mcp.WithString("payload", mcp.Description("JSON work payload, same shape as a generated block"), mcp.Required()),
		),
		mcpPushWorkItem(deps),
	)

	s.AddTool(
		mcp.NewTool("peek_pending",
			mcp.WithDescription("Return the user's oldest undelivered work item without removing it."),
			mcp.WithString("user_id", mcp.Description("Queue owner"), mcp.Required()),
		),
		mcpPeekPending(deps),
	)

	s.AddTool(
		mcp.NewTool("confirm_item",
			mcp.WithDescription("Remove a delivered work item from the user's queue."),
			mcp.WithString("user_id", mcp.Description("Queue owner"), mcp.Required()),
			mcp.WithString("id", mcp.Description("Work item id"), mcp.Required()),
		),
		mcpConfirmItem(deps),
	)

	s.AddTool(
		mcp.NewTool("set_workspace_context",
			mcp.WithDescription("Replace the user's workspace snapshot with a new descriptor list."),
			mcp.WithString("user_id", mcp.Description("Workspace owner"), mcp.Required()),
			mcp.WithArray("descriptors", mcp.Description("Object descriptors currently in the place"), mcp.Required()),
		),
		mcpSetWorkspaceContext(deps),
	)

	s.AddTool(
		mcp.NewTool("get_workspace",
			mcp.WithDescription("Read the user's workspace snapshot, open place, and any unconsumed runtime error."),
			mcp.WithString("user_id", mcp.Description("Workspace owner"), mcp.Required()),
		),
		mcpGetWorkspace(deps),
	)

	return s
}

func mcpPushWorkItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		raw, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}

		payload, err := blocks.Parse(raw)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid payload: %v", err)), nil
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal payload: %v", err)), nil
		}

		item, err := deps.Store.PushQueueItem(uid, string(payloadJSON))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Enqueued work item %s", item.ID)), nil
	}
}

func mcpPeekPending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		item, err := deps.Store.OldestPending(uid)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read queue: %v", err)), nil
		}
		if item == nil {
			return mcpText("null"), nil
		}

		b, err := json.Marshal(toQueueItemPayload(*item))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal item: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpConfirmItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if err := deps.Store.ConfirmQueueItem(uid, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError("no such item"), nil
			}
			return mcpError(fmt.Sprintf("failed to confirm: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Confirmed work item %s", id)), nil
	}
}

func mcpSetWorkspaceContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		descriptors := req.GetStringSlice("descriptors", nil)

		deps.Workspace.ReplaceContext(uid, descriptors)
		return mcpText(fmt.Sprintf("Workspace context replaced (%d descriptors)", len(descriptors))), nil
	}
}

func mcpGetWorkspace(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		out := struct {
			Context   []string             `json:"context"`
			Place     *workspace.Place     `json:"place,omitempty"`
			LastError *runtimeErrorPayload `json:"lastError,omitempty"`
		}{
			Context: deps.Workspace.Context(uid),
		}
		if p, ok := deps.Workspace.PlaceFor(uid); ok {
			out.Place = &p
		}
		if re, ok := deps.Workspace.PeekError(uid); ok {
			out.LastError = toRuntimeErrorPayload(re)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal workspace: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
