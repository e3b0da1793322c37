package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-aras/internal/aras"
)

type recordingExecutor struct {
	mu     sync.Mutex
	ops    []aras.Operation
	result *aras.Result
}

func (e *recordingExecutor) Execute(ctx context.Context, op aras.Operation) *aras.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
	if e.result != nil {
		return e.result
	}
	return &aras.Result{Success: true, StatusCode: http.StatusOK, Payload: map[string]interface{}{"id": "ABC"}}
}

func (e *recordingExecutor) calls() []aras.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]aras.Operation(nil), e.ops...)
}

func newTestServer(t *testing.T, exec Executor) *Server {
	t.Helper()
	s, err := New(exec, TransportStdio, "test", nil)
	require.NoError(t, err)
	return s
}

func callTool(t *testing.T, s *Server, name string, args interface{}) (*mcp.CallToolResult, map[string]interface{}) {
	t.Helper()

	tools := s.MCPServer().ListTools()
	st, ok := tools[name]
	require.True(t, ok, "tool %s not registered", name)

	res, err := st.Handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &body), "tool output must be JSON: %s", text.Text)
	return res, body
}

func TestNew(t *testing.T) {
	_, err := New(nil, TransportStdio, "test", nil)
	assert.Error(t, err)

	_, err = New(&recordingExecutor{}, "carrier-pigeon", "test", nil)
	assert.Error(t, err)

	s, err := New(&recordingExecutor{}, TransportStreamableHTTP, "test", nil)
	require.NoError(t, err)

	var names []string
	for name := range s.MCPServer().ListTools() {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"call_method",
		"clear_item_property",
		"create_item",
		"delete_item",
		"delete_relationship",
		"get_items",
		"get_list",
		"update_item",
		"update_property",
		"upsert_item",
	}, names)
}

func TestToolsCoverEveryKind(t *testing.T) {
	s := newTestServer(t, &recordingExecutor{})
	seen := map[aras.Kind]bool{}
	for _, tl := range s.tools() {
		seen[tl.kind] = true
	}
	for _, k := range aras.Kinds {
		assert.True(t, seen[k], "no tool for %s", k)
	}
}

func TestToolArgumentsBecomeOperations(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]interface{}
		want aras.Operation
	}{
		{
			tool: "get_items",
			args: map[string]interface{}{
				"entityType": "Part",
				"filter":     "item_number eq 'P-100'",
				"select":     "id,item_number",
				"expand":     "Part BOM",
				"orderBy":    "item_number",
				"top":        float64(10),
				"skip":       "5",
				"pageSize":   float64(50),
			},
			want: aras.Operation{
				Kind:       aras.KindGet,
				EntityType: "Part",
				Filter:     "item_number eq 'P-100'",
				Select:     "id,item_number",
				Expand:     "Part BOM",
				OrderBy:    "item_number",
				Top:        10,
				Skip:       5,
				PageSize:   50,
			},
		},
		{
			tool: "create_item",
			args: map[string]interface{}{
				"entityType": "Part",
				"properties": map[string]interface{}{"item_number": "P-100"},
			},
			want: aras.Operation{
				Kind:       aras.KindCreate,
				EntityType: "Part",
				Properties: map[string]interface{}{"item_number": "P-100"},
			},
		},
		{
			tool: "create_item",
			args: map[string]interface{}{
				"entityType":    "Part",
				"properties":    `{"item_number":"P-200"}`,
				"returnMinimal": true,
			},
			want: aras.Operation{
				Kind:          aras.KindCreate,
				EntityType:    "Part",
				Properties:    map[string]interface{}{"item_number": "P-200"},
				ReturnMinimal: true,
			},
		},
		{
			tool: "update_item",
			args: map[string]interface{}{
				"entityType": "Part",
				"identifier": "ABC",
				"properties": map[string]interface{}{"name": "Bolt"},
				"action":     "lock",
			},
			want: aras.Operation{
				Kind:       aras.KindUpdate,
				EntityType: "Part",
				Identifier: "ABC",
				Properties: map[string]interface{}{"name": "Bolt"},
				Action:     "lock",
			},
		},
		{
			tool: "upsert_item",
			args: map[string]interface{}{
				"entityType": "Part",
				"identifier": "ABC",
				"properties": map[string]interface{}{"name": "Bolt"},
			},
			want: aras.Operation{
				Kind:       aras.KindUpsertMerge,
				EntityType: "Part",
				Identifier: "ABC",
				Properties: map[string]interface{}{"name": "Bolt"},
			},
		},
		{
			tool: "update_property",
			args: map[string]interface{}{
				"entityType":   "Part",
				"identifier":   "ABC",
				"propertyName": "weight",
				"value":        float64(12.5),
			},
			want: aras.Operation{
				Kind:         aras.KindUpdateProperty,
				EntityType:   "Part",
				Identifier:   "ABC",
				PropertyName: "weight",
				Value:        float64(12.5),
			},
		},
		{
			tool: "delete_item",
			args: map[string]interface{}{"entityType": "Part", "identifier": "ABC", "purge": "true"},
			want: aras.Operation{Kind: aras.KindDelete, EntityType: "Part", Identifier: "ABC", Purge: true},
		},
		{
			tool: "delete_relationship",
			args: map[string]interface{}{
				"entityType":        "Part",
				"identifier":        "ID1",
				"relationshipName":  "Part BOM",
				"relatedIdentifier": "ID2",
			},
			want: aras.Operation{
				Kind:              aras.KindDeleteRelationship,
				EntityType:        "Part",
				Identifier:        "ID1",
				RelationshipName:  "Part BOM",
				RelatedIdentifier: "ID2",
			},
		},
		{
			tool: "clear_item_property",
			args: map[string]interface{}{"entityType": "Part", "identifier": "ABC", "propertyName": "description"},
			want: aras.Operation{Kind: aras.KindClearProperty, EntityType: "Part", Identifier: "ABC", PropertyName: "description"},
		},
		{
			tool: "call_method",
			args: map[string]interface{}{"methodName": "PE_GetResolvedStructure", "parameters": map[string]interface{}{"id": "ABC"}},
			want: aras.Operation{
				Kind:       aras.KindCallMethod,
				MethodName: "PE_GetResolvedStructure",
				Properties: map[string]interface{}{"id": "ABC"},
			},
		},
		{
			tool: "get_list",
			args: map[string]interface{}{"listId": "LIST1"},
			want: aras.Operation{Kind: aras.KindGetList, Identifier: "LIST1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			exec := &recordingExecutor{}
			s := newTestServer(t, exec)

			res, body := callTool(t, s, tt.tool, tt.args)
			assert.False(t, res.IsError)
			assert.Equal(t, true, body["success"])

			calls := exec.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0])
		})
	}
}

func TestToolValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args interface{}
	}{
		{name: "arguments not an object", tool: "get_items", args: []interface{}{"Part"}},
		{name: "no arguments", tool: "get_items", args: nil},
		{name: "entity type wrong type", tool: "get_items", args: map[string]interface{}{"entityType": 42}},
		{name: "fractional top", tool: "get_items", args: map[string]interface{}{"entityType": "Part", "top": 1.5}},
		{name: "missing properties", tool: "create_item", args: map[string]interface{}{"entityType": "Part"}},
		{name: "empty properties", tool: "create_item", args: map[string]interface{}{"entityType": "Part", "properties": map[string]interface{}{}}},
		{name: "properties not JSON", tool: "create_item", args: map[string]interface{}{"entityType": "Part", "properties": "{oops"}},
		{name: "update without identifier", tool: "update_item", args: map[string]interface{}{"entityType": "Part", "properties": map[string]interface{}{"a": 1}}},
		{name: "update property without value", tool: "update_property", args: map[string]interface{}{"entityType": "Part", "identifier": "A", "propertyName": "x"}},
		{name: "purge not boolean", tool: "delete_item", args: map[string]interface{}{"entityType": "Part", "identifier": "A", "purge": "sometimes"}},
		{name: "unlink without related id", tool: "delete_relationship", args: map[string]interface{}{"entityType": "Part", "identifier": "A", "relationshipName": "Part BOM"}},
		{name: "method without name", tool: "call_method", args: map[string]interface{}{}},
		{name: "list without id", tool: "get_list", args: map[string]interface{}{"listId": "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{}
			s := newTestServer(t, exec)

			res, body := callTool(t, s, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Equal(t, false, body["success"])

			errObj, ok := body["error"].(map[string]interface{})
			require.True(t, ok, "error object expected: %v", body)
			assert.Equal(t, string(aras.KindValidation), errObj["kind"])
			assert.NotEmpty(t, errObj["detail"])
			assert.Empty(t, exec.calls(), "no operation may run for invalid arguments")
		})
	}
}

func TestToolReportsClientFailure(t *testing.T) {
	exec := &recordingExecutor{result: &aras.Result{
		StatusCode: http.StatusNotFound,
		Error:      &aras.Error{Kind: aras.KindAPI, StatusCode: http.StatusNotFound, Code: "NotFound", Detail: "Item not found"},
	}}
	s := newTestServer(t, exec)

	res, body := callTool(t, s, "get_items", map[string]interface{}{"entityType": "Part", "identifier": "nope"})

	assert.True(t, res.IsError)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "ApiError", errObj["kind"])
	assert.Equal(t, float64(http.StatusNotFound), errObj["status_code"])
	assert.Equal(t, "Item not found", errObj["detail"])
}

// TestToolAgainstMockServer runs a tool through the real client.
func TestToolAgainstMockServer(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/oauthserver/connect/token" {
			_, _ = w.Write([]byte(`{"access_token":"t","token_type":"Bearer","expires_in":3600}`))
			return
		}
		buf, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, string(buf)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"NEW1","item_number":"P-100"}`))
	}))
	defer srv.Close()

	tm, err := aras.NewTokenManager(aras.Credentials{
		URL:      srv.URL,
		Username: "admin",
		Password: "secret",
		Database: "InnovatorSolutions",
	})
	require.NoError(t, err)
	client, err := aras.NewClient(aras.ClientConfig{
		ServerURL: srv.URL,
		Tokens:    tm,
		Retry:     aras.RetryPolicy{MaxAttempts: 1, Timeout: 2 * time.Second},
	})
	require.NoError(t, err)

	s := newTestServer(t, client)
	res, body := callTool(t, s, "create_item", map[string]interface{}{
		"entityType": "Part",
		"properties": map[string]interface{}{"item_number": "P-100"},
	})

	require.False(t, res.IsError, "unexpected failure: %v", body)
	assert.Equal(t, float64(http.StatusCreated), body["status_code"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "NEW1", payload["id"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/Server/Odata/Part", gotPath)
	assert.JSONEq(t, `{"item_number":"P-100"}`, gotBody)
}
