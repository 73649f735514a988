// Package mcp implements the bidirectional MCP (Model Context Protocol)
// bridge (spec.md §4.6): an outbound Client that spawns subprocess servers,
// discovers their tools, and bridges them into a local tools.Registry, and
// an inbound Server that serves a local tools.Registry to remote clients
// over the same protocol.
//
// Transport is newline-delimited JSON-RPC 2.0 framed over a child process's
// stdio pipes. Grounded on the teacher's internal/mcpclient/mcpclient.go
// for the os/exec spawn + pipe wiring and command path-cleaning validation,
// but the wire codec itself is hand-rolled against bufio.Scanner +
// encoding/json rather than delegated to github.com/modelcontextprotocol/go-sdk
// (used by the teacher's outbound client) or github.com/metoro-io/mcp-golang
// (used by the teacher's cmd/mcpserver): neither library exposes the exact
// error-code / pre-initialize-guard / frame-cap behavior spec.md §4.6 and
// §8 pin down as testable properties, so this package owns the
// request/response lifecycle directly (DESIGN.md records the rejection).
package mcp

import "encoding/json"

// ProtocolVersion is the MCP protocol version tag spec.md §4.6 and §6 pin
// down.
const ProtocolVersion = "2025-11-25"

// MaxFrameBytes is the minimum frame size cap spec.md §4.6 requires
// ("at least 128 KiB").
const MaxFrameBytes = 128 * 1024

// JSON-RPC 2.0 error codes (spec.md §6).
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32002
)

// Request is one JSON-RPC request or notification frame. ID is omitted
// (nil) for notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether r carries no id (per spec.md §4.6, "if id
// is absent, treat as notification and do not reply").
func (r Request) IsNotification() bool { return r.ID == nil }

// Response is one JSON-RPC response frame. Exactly one of Result/Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRequest(id *int64, method string, params any) Request {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
}

func successResponse(id *int64, result any) Response {
	raw, _ := json.Marshal(result)
	return Response{JSONRPC: "2.0", ID: id, Result: raw}
}

func errorResponse(id *int64, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// ToolSchema is the wire shape of one MCP-discovered tool (spec.md §4.6:
// `{name, description, inputSchema}`).
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// initializeParams is what a client sends as the `initialize` request
// params (spec.md §4.6: "client announces its identity and protocol
// version").
type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      implementationInfo     `json:"clientInfo"`
	Capabilities    map[string]any         `json:"capabilities"`
}

type implementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      implementationInfo `json:"serverInfo"`
	Capabilities    map[string]any     `json:"capabilities"`
}

type toolsListResult struct {
	Tools []ToolSchema `json:"tools"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}
