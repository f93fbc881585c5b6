package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	h := New(Deps{})
	if h.NewMCPServer() == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	if h.NewMCPHandler() == nil {
		t.Fatal("NewMCPHandler returned nil")
	}
}

func TestMCPInitialize(t *testing.T) {
	env := newTestEnv(t)

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2025-06-18",
			"clientInfo": map[string]string{
				"name":    "test-client",
				"version": "1.0.0",
			},
			"capabilities": map[string]interface{}{},
		},
	}

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	env.handler.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(jsonData))
	}
	if resp.Error != nil {
		t.Errorf("Unexpected error: %+v", resp.Error)
	}

	var result struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.ServerInfo.Name != "storefront" {
		t.Errorf("serverInfo.name = %q, want storefront", result.ServerInfo.Name)
	}
}

func TestMCPToolsList(t *testing.T) {
	env := newTestEnv(t)
	sessionID := initMCPSession(t, env.handler)

	resp := mcpCall(t, env.handler, sessionID, 2, "tools/list", map[string]interface{}{})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to decode tools list: %v", err)
	}

	found := make(map[string]bool)
	for _, tool := range result.Tools {
		found[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	for _, name := range []string{"search_products", "get_product", "list_categories"} {
		if !found[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(result.Tools) != 3 {
		t.Errorf("got %d tools, want 3", len(result.Tools))
	}
}

func TestMCPSearchProducts(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantNames []string
	}{
		{"no filters", `{}`, []string{"House Blend", "Ethiopia Yirgacheffe", "Logo Mug"}},
		{"coffee family", `{"category":"coffee"}`, []string{"House Blend", "Ethiopia Yirgacheffe"}},
		{"search", `{"search":"bergamot"}`, []string{"Ethiopia Yirgacheffe"}},
		{"featured ground", `{"featured":true,"format":"ground"}`, []string{"House Blend"}},
		{"no match", `{"category":"tea"}`, nil},
	}

	env := newTestEnv(t)
	sessionID := initMCPSession(t, env.handler)

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, env.handler, sessionID, 10+i, "search_products", tt.args)
			if result.IsError {
				t.Fatalf("tool error: %s", result.Content[0].Text)
			}

			var out SearchProductsOutput
			if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
				t.Fatalf("Failed to decode output: %v", err)
			}
			if out.Count != len(tt.wantNames) || len(out.Products) != len(tt.wantNames) {
				t.Fatalf("Count = %d, want %d", out.Count, len(tt.wantNames))
			}
			for j, name := range tt.wantNames {
				if out.Products[j].ProductName != name {
					t.Errorf("Products[%d] = %s, want %s", j, out.Products[j].ProductName, name)
				}
			}
		})
	}
}

func TestMCPGetProduct(t *testing.T) {
	env := newTestEnv(t)
	sessionID := initMCPSession(t, env.handler)

	result := callTool(t, env.handler, sessionID, 2, "get_product", `{"sku":"HB-GR"}`)
	if result.IsError {
		t.Fatalf("tool error: %s", result.Content[0].Text)
	}

	var out GetProductOutput
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if out.Product.SKU != "HB-GR" || out.Product.Format != "Ground" {
		t.Errorf("Product = %+v", out.Product)
	}
	if out.Group == nil || out.Group.ProductName != "House Blend" || len(out.Group.Variants) != 2 {
		t.Errorf("Group = %+v", out.Group)
	}
}

func TestMCPGetProductErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantCode string
	}{
		{"unknown sku", `{"sku":"NOPE"}`, "NOT_FOUND"},
		{"empty sku", `{"sku":""}`, "VALIDATION_ERROR"},
	}

	env := newTestEnv(t)
	sessionID := initMCPSession(t, env.handler)

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, env.handler, sessionID, 20+i, "get_product", tt.args)
			if !result.IsError {
				t.Fatal("expected isError result")
			}
			if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, tt.wantCode) {
				t.Errorf("content = %+v, want %s", result.Content, tt.wantCode)
			}
		})
	}
}

func TestMCPListCategories(t *testing.T) {
	env := newTestEnv(t)
	sessionID := initMCPSession(t, env.handler)

	result := callTool(t, env.handler, sessionID, 2, "list_categories", `{}`)
	if result.IsError {
		t.Fatalf("tool error: %s", result.Content[0].Text)
	}

	var out ListCategoriesOutput
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	coffee := make(map[string]bool)
	for _, c := range out.Categories {
		coffee[c.Slug] = c.IsCoffee
	}
	if !coffee["single-origin"] {
		t.Errorf("single-origin should be a coffee category: %+v", out.Categories)
	}
	if isCoffee, ok := coffee["merch"]; !ok || isCoffee {
		t.Errorf("merch should be listed as non-coffee: %+v", out.Categories)
	}
}

// callTool invokes tools/call and decodes the tool result.
func callTool(t *testing.T, h http.Handler, sessionID string, id int, name, args string) callToolResult {
	t.Helper()
	resp := mcpCall(t, h, sessionID, id, "tools/call", toolCallParams{
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	if resp.Error != nil {
		t.Fatalf("Unexpected JSON-RPC error: %+v", resp.Error)
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to decode tool result: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("Expected content in result")
	}
	return result
}

func mcpCall(t *testing.T, h http.Handler, sessionID string, id int, method string, params interface{}) jsonrpcResponse {
	t.Helper()
	body, _ := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("%s: Status = %d\nBody: %s", method, w.Code, w.Body.String())
	}
	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(jsonData))
	}
	return resp
}

// setMCPHeaders sets the required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// Streamable HTTP requires both json and event-stream in Accept
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// No SSE framing, assume plain JSON
	return []byte(body), nil
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, h http.Handler) string {
	t.Helper()

	initReq := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]interface{}{},
		},
	}

	body, _ := json.Marshal(initReq)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}

	return w.Header().Get("Mcp-Session-Id")
}
