package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoDescriptor(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "echoes args back",
		ArgsSchema:  `{"type":"object"}`,
		Executor: func(_ context.Context, _ any, argsJSON string) Result {
			return Ok(argsJSON)
		},
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("echo")))
	err := r.Register(echoDescriptor("echo"))
	require.Error(t, err)
	require.Equal(t, 1, r.Count())
}

func TestRegisterInsertionOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("a")))
	require.NoError(t, r.Register(echoDescriptor("b")))
	name0, ok := r.Name(0)
	require.True(t, ok)
	require.Equal(t, "a", name0)
	name1, _ := r.Name(1)
	require.Equal(t, "b", name1)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "missing", "{}")
	require.False(t, res.Success)
	require.Contains(t, res.Error, "not found")
}

func TestGrammarNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("calculate")))
	require.NoError(t, r.Register(echoDescriptor("get_time")))
	names := r.GrammarNames()
	require.Contains(t, names, "tool-name ::=")
	require.Contains(t, names, "calculate")
	require.Contains(t, names, "get_time")
}

func TestRegisterDefaultsCapabilityGating(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r, CapFilesystem))

	_, hasReadFile := r.Get("read_file")
	require.True(t, hasReadFile)
	_, hasShell := r.Get("shell")
	require.False(t, hasShell)
	_, hasHTTP := r.Get("http_get")
	require.False(t, hasHTTP)
	// calculate and get_time require no capability.
	_, hasCalc := r.Get("calculate")
	require.True(t, hasCalc)
}

func TestCalculateSanitizationRejectsMetacharacters(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r, 0))
	res := r.Execute(context.Background(), "calculate", `{"expression":"1; rm -rf /"}`)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "disallowed")
}

func TestReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hello.txt"
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r, CapFilesystem))

	writeRes := r.Execute(context.Background(), "write_file", `{"path":"`+path+`","content":"line1\nline2\nline3"}`)
	require.True(t, writeRes.Success)

	readRes := r.Execute(context.Background(), "read_file", `{"path":"`+path+`"}`)
	require.True(t, readRes.Success)
	require.Contains(t, readRes.Output, "line1")

	windowRes := r.Execute(context.Background(), "read_file", `{"path":"`+path+`","start_line":2,"end_line":2}`)
	require.True(t, windowRes.Success)
	require.Equal(t, "line2\n", windowRes.Output)
}

func TestExtractPDFLiteralText(t *testing.T) {
	content := []byte("garbage BT (Hello) Tj (World) Tj ET more garbage")
	text := extractPDFLiteralText(content)
	require.Contains(t, text, "Hello")
	require.Contains(t, text, "World")
}
