package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/studiosync/studiosync/internal/storage"
	"github.com/studiosync/studiosync/internal/workspace"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Store: store, Workspace: workspace.NewStore()}
}

func callToolReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestMCPPushWorkItem(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpPushWorkItem(deps)

	res, err := handler(context.Background(), callToolReq(map[string]any{
		"user_id": "u1",
		"payload": `{"scriptType":"Script","targetService":"ServerScriptService","name":"Door","code":"print(1)"}`,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	item, err := deps.Store.OldestPending("u1")
	if err != nil || item == nil {
		t.Fatalf("OldestPending = %v, %v", item, err)
	}
	if !strings.Contains(item.PayloadJSON, "Door") {
		t.Errorf("payload = %s", item.PayloadJSON)
	}
}

func TestMCPPushWorkItem_RejectsInvalidPayload(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpPushWorkItem(deps)

	res, err := handler(context.Background(), callToolReq(map[string]any{
		"user_id": "u1",
		"payload": `{"type":"script","name":"NoCode"}`,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("invalid payload accepted")
	}

	if item, _ := deps.Store.OldestPending("u1"); item != nil {
		t.Errorf("invalid payload reached the queue: %+v", item)
	}
}

func TestMCPPeekAndConfirm(t *testing.T) {
	deps := newTestMCPDeps(t)

	pushed, err := deps.Store.PushQueueItem("u1", `{"type":"script","name":"X"}`)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	res, err := mcpPeekPending(deps)(context.Background(), callToolReq(map[string]any{"user_id": "u1"}))
	if err != nil || res.IsError {
		t.Fatalf("peek: %v, %v", err, res)
	}
	var peeked struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &peeked); err != nil {
		t.Fatalf("decoding peek result: %v", err)
	}
	if peeked.ID != pushed.ID {
		t.Errorf("peeked id = %q, want %q", peeked.ID, pushed.ID)
	}

	res, err = mcpConfirmItem(deps)(context.Background(), callToolReq(map[string]any{"user_id": "u1", "id": pushed.ID}))
	if err != nil || res.IsError {
		t.Fatalf("confirm: %v, %v", err, res)
	}

	res, _ = mcpPeekPending(deps)(context.Background(), callToolReq(map[string]any{"user_id": "u1"}))
	if got := resultText(t, res); got != "null" {
		t.Errorf("peek after confirm = %q, want null", got)
	}

	res, _ = mcpConfirmItem(deps)(context.Background(), callToolReq(map[string]any{"user_id": "u1", "id": pushed.ID}))
	if !res.IsError {
		t.Error("second confirm succeeded, want tool error")
	}
}

func TestMCPWorkspaceTools(t *testing.T) {
	deps := newTestMCPDeps(t)

	res, err := mcpSetWorkspaceContext(deps)(context.Background(), callToolReq(map[string]any{
		"user_id":     "u1",
		"descriptors": []any{"Baseplate", "SpawnLocation"},
	}))
	if err != nil || res.IsError {
		t.Fatalf("set context: %v, %v", err, res)
	}

	deps.Workspace.RecordError("u1", workspace.RuntimeError{Message: "boom", Line: 2})
	deps.Workspace.RecordPlace("u1", workspace.Place{PlaceID: "123", GameID: "456"})

	res, err = mcpGetWorkspace(deps)(context.Background(), callToolReq(map[string]any{"user_id": "u1"}))
	if err != nil || res.IsError {
		t.Fatalf("get workspace: %v, %v", err, res)
	}

	var out struct {
		Context   []string `json:"context"`
		Place     *struct{ PlaceID string `json:"placeId"` } `json:"place"`
		LastError *struct{ Message string `json:"message"` } `json:"lastError"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding workspace: %v", err)
	}
	if len(out.Context) != 2 || out.Place == nil || out.Place.PlaceID != "123" {
		t.Errorf("workspace = %+v", out)
	}
	if out.LastError == nil || out.LastError.Message != "boom" {
		t.Errorf("lastError = %+v", out.LastError)
	}

	// Reading over MCP must not consume the error meant for the plugin.
	if _, ok := deps.Workspace.PeekError("u1"); !ok {
		t.Error("get_workspace consumed the runtime error")
	}
}

// The MCP surface is also served over streamable HTTP, for frontends that are
// not a parent process. An initialize round trip is enough to prove the
// transport is wired to the same server.
func TestMCPOverHTTP_Initialize(t *testing.T) {
	deps := newTestMCPDeps(t)
	srv := httptest.NewServer(server.NewStreamableHTTPServer(NewMCPServer(deps)))
	t.Cleanup(srv.Close)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"studiosync-test","version":"0.0.1"}}}`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("initialize request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), `"studiosync"`) {
		t.Errorf("initialize response missing server info: %s", data)
	}
}
