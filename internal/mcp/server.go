package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"synapsed/internal/tools"
)

// Server is the inbound MCP peer: it serves a local tools.Registry to a
// remote client over newline-delimited JSON-RPC on stdio. Grounded on the
// teacher's cmd/mcpserver/mcpserver.go dispatch-by-name shape, re-expressed
// as raw JSON-RPC per DESIGN.md's decision not to delegate to mcp-golang.
type Server struct {
	Registry *tools.Registry
	initialized bool
}

// NewServer returns a Server backed by reg.
func NewServer(reg *tools.Registry) *Server {
	return &Server{Registry: reg}
}

// ServeStdio reads newline-delimited JSON-RPC requests from in and writes
// responses to out until in is exhausted or a read error occurs. Protocol
// errors on individual frames are logged via zerolog (stderr unless a log
// file is configured) and do not stop the loop.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), MaxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Warn().Err(err).Msg("mcp_server_bad_frame")
			if writeErr := writeFrame(out, errorResponse(nil, CodeInvalidRequest, "invalid request")); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp, hasResp := s.dispatch(ctx, req)
		if !hasResp {
			continue
		}
		if err := writeFrame(out, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dispatch handles one request/notification and returns (response, true)
// if a reply should be written, or (_, false) for notifications.
func (s *Server) dispatch(ctx context.Context, req Request) (Response, bool) {
	if req.Method == "" {
		if req.IsNotification() {
			return Response{}, false
		}
		return errorResponse(req.ID, CodeInvalidRequest, "missing method"), true
	}

	if req.Method != "initialize" && !s.initialized {
		if req.IsNotification() {
			log.Debug().Str("method", req.Method).Msg("mcp_server_notification_before_init")
			return Response{}, false
		}
		return errorResponse(req.ID, CodeNotInitialized, "server not initialized"), true
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		s.initialized = true
		return Response{}, false
	case "ping":
		return successResponse(req.ID, map[string]any{}), true
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "notifications/cancelled":
		log.Debug().RawJSON("params", req.Params).Msg("mcp_server_cancelled")
		return Response{}, false
	default:
		if req.IsNotification() {
			return Response{}, false
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)), true
	}
}

func (s *Server) handleInitialize(req Request) (Response, bool) {
	result := initializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      implementationInfo{Name: "synapsed-mcpserver", Version: "0"},
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
	}
	s.initialized = true
	return successResponse(req.ID, result), true
}

func (s *Server) handleToolsList(req Request) (Response, bool) {
	schemas := make([]ToolSchema, 0, s.Registry.Count())
	for i := 0; i < s.Registry.Count(); i++ {
		name, _ := s.Registry.Name(i)
		desc, _ := s.Registry.Description(i)
		schemaText, _ := s.Registry.Schema(i)
		schemas = append(schemas, ToolSchema{
			Name:        name,
			Description: desc,
			InputSchema: json.RawMessage(schemaText),
		})
	}
	return successResponse(req.ID, toolsListResult{Tools: schemas}), true
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) (Response, bool) {
	var params toolsCallParams
	if len(req.Params) == 0 {
		return errorResponse(req.ID, CodeInvalidParams, "missing arguments"), true
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "malformed params"), true
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "missing tool name"), true
	}

	argsJSON := "{}"
	if params.Arguments != nil {
		if b, err := json.Marshal(params.Arguments); err == nil {
			argsJSON = string(b)
		} else {
			return errorResponse(req.ID, CodeInternalError, "failed to marshal arguments"), true
		}
	}

	result := s.Registry.Execute(ctx, params.Name, argsJSON)
	text := result.Output
	if !result.Success {
		text = result.Error
	}
	return successResponse(req.ID, toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: text}},
		IsError: !result.Success,
	}), true
}
