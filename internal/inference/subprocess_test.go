package inference

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeBackendScript writes an executable shell peer that speaks the
// subprocess backend protocol: one JSON request per line in, one JSON
// response per line out, mirroring internal/mcp/client_test.go's fake
// server pattern.
func writeFakeBackendScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_backend.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"op":"count_tokens"'*)
      echo '{"id":1,"count":3}'
      ;;
    *'"op":"complete"'*)
      echo '{"id":2,"text":"generated text","n_tokens":2}'
      ;;
    *'"op":"apply_chat_template"'*)
      echo '{"id":3,"ok":true,"prompt":"templated prompt"}'
      ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSubprocessBackendRoundTrip(t *testing.T) {
	path := writeFakeBackendScript(t)
	backend, err := StartSubprocessBackend(path, nil, 4096)
	require.NoError(t, err)
	defer backend.Close()

	require.Equal(t, 4096, backend.ContextCapacity())
	require.Equal(t, 3, backend.CountTokens("hello"))

	text, n, err := backend.Complete(context.Background(), "prompt", Params{MaxTokens: 16})
	require.NoError(t, err)
	require.Equal(t, "generated text", text)
	require.Equal(t, 2, n)

	prompt, ok := backend.ApplyChatTemplate([]Message{{Role: "user", Content: "hi"}})
	require.True(t, ok)
	require.Equal(t, "templated prompt", prompt)
}

func TestSubprocessBackendDefaultsContextWindow(t *testing.T) {
	path := writeFakeBackendScript(t)
	backend, err := StartSubprocessBackend(path, nil, 0)
	require.NoError(t, err)
	defer backend.Close()
	require.Equal(t, 8192, backend.ContextCapacity())
}
