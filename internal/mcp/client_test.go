package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synapsed/internal/tools"
)

// writeFakeServer writes a tiny shell script that speaks just enough MCP
// JSON-RPC to exercise Client.Connect/CallTool: it answers initialize,
// ignores the initialized notification, answers tools/list with one
// "echo" tool, and answers every tools/call with the fixed text "echoed".
func writeFakeServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_mcp_server.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-11-25","serverInfo":{"name":"fake","version":"0"},"capabilities":{}}}'
      ;;
    *'"method":"notifications/initialized"'*)
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes","inputSchema":{"type":"object"}}]}}'
      ;;
    *'"method":"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"echoed"}],"isError":false}}'
      ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestClientConnectDiscoversAndCallsRemoteTool(t *testing.T) {
	path := writeFakeServer(t)
	c := NewClient()
	c.timeout = 5 * time.Second
	require.NoError(t, c.AddServer(ServerConfig{Name: "fake", Command: path}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	require.Equal(t, 1, c.ServerCount())
	require.Equal(t, 1, c.ToolCount())

	reg := tools.NewRegistry()
	require.NoError(t, c.RegisterTools(reg))
	_, ok := reg.Get("echo")
	require.True(t, ok)

	text, err := c.CallTool(ctx, "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	require.Equal(t, "echoed", text)
}

func TestClientCallToolUnknownName(t *testing.T) {
	c := NewClient()
	_, err := c.CallTool(context.Background(), "missing", "{}")
	require.Error(t, err)
}

func TestClientRejectsPathTraversal(t *testing.T) {
	c := NewClient()
	require.NoError(t, c.AddServer(ServerConfig{Name: "bad", Command: "../escape/server"}))
	err := c.Connect(context.Background())
	require.Error(t, err)
}

func TestLoadConfigParsesMCPServersShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"local":{"command":"./srv","args":["--flag"],"env":{"KEY":"VAL"}}}}`), 0o644))

	c := NewClient()
	require.NoError(t, c.LoadConfig(path))
	require.Equal(t, 1, c.ServerCount())
	require.Equal(t, "./srv", c.servers[0].cfg.Command)
}

func TestServerSlotLimit(t *testing.T) {
	c := NewClient()
	for i := 0; i < MaxServers; i++ {
		require.NoError(t, c.AddServer(ServerConfig{Name: "s", Command: "x"}))
	}
	require.Error(t, c.AddServer(ServerConfig{Name: "overflow", Command: "x"}))
}
