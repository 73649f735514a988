package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsed/internal/tools"
)

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Descriptor{
		Name:        "echo",
		Description: "echoes input",
		ArgsSchema:  `{"type":"object","properties":{"text":{"type":"string"}}}`,
		Executor: func(_ context.Context, _ any, argsJSON string) tools.Result {
			return tools.Ok(argsJSON)
		},
	}))
	return r
}

func idPtr(v int64) *int64 { return &v }

func TestServerRejectsBeforeInitialize(t *testing.T) {
	s := NewServer(echoRegistry(t))
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: "tools/list"})
	require.True(t, has)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeNotInitialized, resp.Error.Code)
}

func TestServerInitializeThenToolsList(t *testing.T) {
	s := NewServer(echoRegistry(t))
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: "initialize"})
	require.True(t, has)
	require.Nil(t, resp.Error)

	resp, has = s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(2), Method: "tools/list"})
	require.True(t, has)
	require.Nil(t, resp.Error)
	var result toolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	require.Equal(t, "echo", result.Tools[0].Name)
}

func TestServerNotificationsInitializedHasNoResponse(t *testing.T) {
	s := NewServer(echoRegistry(t))
	_, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.False(t, has)
}

func TestServerUnknownMethod(t *testing.T) {
	s := NewServer(echoRegistry(t))
	s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: "initialize"})
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(2), Method: "bogus"})
	require.True(t, has)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServerMissingMethod(t *testing.T) {
	s := NewServer(echoRegistry(t))
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: ""})
	require.True(t, has)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestServerToolsCallMissingArguments(t *testing.T) {
	s := NewServer(echoRegistry(t))
	s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: "initialize"})
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(2), Method: "tools/call"})
	require.True(t, has)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServerToolsCallExecutes(t *testing.T) {
	s := NewServer(echoRegistry(t))
	s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(1), Method: "initialize"})
	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	resp, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: idPtr(2), Method: "tools/call", Params: params})
	require.True(t, has)
	require.Nil(t, resp.Error)
	var result toolsCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "hi")
}

func TestServerNotificationWithoutIDIsNotRepliedWhenNotInitialized(t *testing.T) {
	s := NewServer(echoRegistry(t))
	_, has := s.dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "notifications/cancelled"})
	require.False(t, has)
}

func TestServeStdioRoundTrip(t *testing.T) {
	s := NewServer(echoRegistry(t))
	var in bytes.Buffer
	initReq, _ := json.Marshal(Request{JSONRPC: "2.0", ID: idPtr(1), Method: "initialize"})
	listReq, _ := json.Marshal(Request{JSONRPC: "2.0", ID: idPtr(2), Method: "tools/list"})
	in.Write(initReq)
	in.WriteByte('\n')
	in.Write(listReq)
	in.WriteByte('\n')

	var out bytes.Buffer
	require.NoError(t, s.ServeStdio(context.Background(), &in, &out))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
}
