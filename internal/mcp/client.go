package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"synapsed/internal/synapseerr"
	"synapsed/internal/tools"
)

// MaxServers and MaxDiscoveredTools are the bounded-collection limits
// spec.md §3 describes for MCP peer state ("server slots (bounded, default
// ≤ 16)", "discovered tools (bounded, default ≤ 256)").
const (
	MaxServers         = 16
	MaxDiscoveredTools = 256
)

// DefaultRequestTimeout is the per-call timeout spec.md §4.6 describes
// ("default 30 s").
const DefaultRequestTimeout = 30 * time.Second

// childStartupGrace is how long Connect waits after spawning a child
// before attempting the initialize handshake (spec.md §4.6: "give child
// ~200 ms to start").
const childStartupGrace = 200 * time.Millisecond

// ServerConfig describes one subprocess MCP server to spawn.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// DiscoveredTool is one remote tool discovered via tools/list, carrying the
// index of its owning server slot (spec.md §9: "the client owns all
// bridge state as an indexed table; the descriptor stores only the client
// handle and a tool index — no back-pointers into short-lived structures").
type DiscoveredTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	ServerIndex int
}

// serverSlot is one connected (or queued) subprocess peer.
type serverSlot struct {
	cfg     ServerConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	mu              sync.Mutex // pipes must not be shared across threads (spec.md §5)
	nextRequestID   int64
	connected       bool
	protocolVersion string
}

// Client is the outbound MCP peer: it spawns configured servers, performs
// the initialize handshake, discovers tools, and routes tool calls back to
// their owning server.
type Client struct {
	servers []*serverSlot
	tools   []DiscoveredTool
	timeout time.Duration
}

// NewClient returns an empty client with no servers queued.
func NewClient() *Client {
	return &Client{timeout: DefaultRequestTimeout}
}

// AddServer queues cfg for the next Connect call. Fails once MaxServers
// slots are occupied.
func (c *Client) AddServer(cfg ServerConfig) error {
	if len(c.servers) >= MaxServers {
		return synapseerr.New(synapseerr.InvalidParam, "mcp: server slot limit reached")
	}
	c.servers = append(c.servers, &serverSlot{cfg: cfg})
	return nil
}

// mcpConfigFile is the `{"mcpServers": {...}}` shape spec.md §6 describes.
type mcpConfigFile struct {
	MCPServers map[string]struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
	} `json:"mcpServers"`
}

// LoadConfig parses a JSON config file and queues each described server.
func (c *Client) LoadConfig(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return synapseerr.Wrap(synapseerr.InvalidParam, "mcp: read config", err)
	}
	var parsed mcpConfigFile
	if err := json.Unmarshal(b, &parsed); err != nil {
		return synapseerr.Wrap(synapseerr.InvalidParam, "mcp: parse config", err)
	}
	for name, srv := range parsed.MCPServers {
		if err := c.AddServer(ServerConfig{Name: name, Command: srv.Command, Args: srv.Args, Env: srv.Env}); err != nil {
			return err
		}
	}
	return nil
}

// Connect spawns and initializes every queued server: pipe wiring, a
// startup grace period, the initialize handshake, the initialized
// notification, and a tools/list discovery call.
func (c *Client) Connect(ctx context.Context) error {
	for _, slot := range c.servers {
		if err := c.connectOne(ctx, slot); err != nil {
			log.Error().Err(err).Str("server", slot.cfg.Name).Msg("mcp_connect_failed")
			return err
		}
	}
	return nil
}

// connectOne validates the command path (grounded on the teacher's
// filepath.Clean + ".." rejection in mcpclient.go; absolute paths are
// accepted), spawns the child, and runs the handshake.
func (c *Client) connectOne(ctx context.Context, slot *serverSlot) error {
	cleanCmd := filepath.Clean(slot.cfg.Command)
	if strings.Contains(cleanCmd, ".."+string(os.PathSeparator)) {
		return synapseerr.New(synapseerr.InvalidParam, "mcp: command path must not traverse directories")
	}

	cmd := exec.Command(cleanCmd, slot.cfg.Args...)
	if len(slot.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range slot.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: start server", err)
	}

	slot.cmd = cmd
	slot.stdin = stdin
	slot.scanner = bufio.NewScanner(stdout)
	slot.scanner.Buffer(make([]byte, 0, 4096), MaxFrameBytes)

	time.Sleep(childStartupGrace)

	if err := c.handshake(ctx, slot); err != nil {
		return err
	}
	slot.connected = true
	return c.discoverTools(ctx, slot)
}

func (c *Client) handshake(ctx context.Context, slot *serverSlot) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      implementationInfo{Name: "synapsed", Version: "0"},
		Capabilities:    map[string]any{},
	}
	resp, err := c.call(ctx, slot, "initialize", params)
	if err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: initialize", err)
	}
	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: parse initialize result", err)
	}
	slot.protocolVersion = result.ProtocolVersion

	return c.notify(slot, "notifications/initialized", nil)
}

func (c *Client) discoverTools(ctx context.Context, slot *serverSlot) error {
	resp, err := c.call(ctx, slot, "tools/list", nil)
	if err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: tools/list", err)
	}
	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return synapseerr.Wrap(synapseerr.Init, "mcp: parse tools/list result", err)
	}

	serverIndex := c.serverIndex(slot)
	for _, t := range result.Tools {
		if len(c.tools) >= MaxDiscoveredTools {
			return synapseerr.New(synapseerr.InvalidParam, "mcp: discovered-tool limit reached")
		}
		c.tools = append(c.tools, DiscoveredTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ServerIndex: serverIndex,
		})
	}
	return nil
}

func (c *Client) serverIndex(slot *serverSlot) int {
	for i, s := range c.servers {
		if s == slot {
			return i
		}
	}
	return -1
}

// ServerCount returns the number of queued/connected server slots.
func (c *Client) ServerCount() int { return len(c.servers) }

// ToolCount returns the number of discovered remote tools.
func (c *Client) ToolCount() int { return len(c.tools) }

// CallTool routes a tool call by name to its owning server and returns its
// extracted text content, or an error string (spec.md §4.6: "returns text
// content extracted from result.content[0].text, or an error string").
func (c *Client) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	var found *DiscoveredTool
	for i := range c.tools {
		if c.tools[i].Name == name {
			found = &c.tools[i]
			break
		}
	}
	if found == nil {
		return "", synapseerr.New(synapseerr.ToolNotFound, fmt.Sprintf("mcp: tool %q not discovered", name))
	}
	if found.ServerIndex < 0 || found.ServerIndex >= len(c.servers) {
		return "", synapseerr.New(synapseerr.ToolExec, "mcp: tool has no owning server")
	}
	slot := c.servers[found.ServerIndex]

	var args map[string]any
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", synapseerr.Wrap(synapseerr.InvalidParam, "mcp: parse tool args", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	resp, err := c.call(ctx, slot, "tools/call", toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return "", synapseerr.Wrap(synapseerr.ToolExec, "mcp: tools/call", err)
	}
	if resp.Error != nil {
		return "", synapseerr.New(synapseerr.ToolExec, resp.Error.Message)
	}
	var result toolsCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", synapseerr.Wrap(synapseerr.ToolExec, "mcp: parse tools/call result", err)
	}
	if len(result.Content) == 0 {
		return "", nil
	}
	return result.Content[0].Text, nil
}

// RegisterTools inserts a wrapper descriptor per discovered tool into reg,
// whose executor routes through CallTool.
func (c *Client) RegisterTools(reg *tools.Registry) error {
	for _, t := range c.tools {
		name := t.Name
		schema := string(t.InputSchema)
		if schema == "" {
			schema = `{"type":"object"}`
		}
		d := tools.Descriptor{
			Name:        name,
			Description: t.Description,
			ArgsSchema:  schema,
			Executor: func(ctx context.Context, state any, argsJSON string) tools.Result {
				client := state.(*Client)
				text, err := client.CallTool(ctx, name, argsJSON)
				if err != nil {
					return tools.Err("%v", err)
				}
				return tools.Ok(text)
			},
			ExecutorState: c,
		}
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// call sends a request and blocks until its matching response arrives,
// logging and skipping any notification frames received while waiting
// (spec.md §4.6, §5). The per-call timeout and ctx are checked before each
// frame read; a read that blocks because the server sends nothing is not
// interrupted by either.
func (c *Client) call(ctx context.Context, slot *serverSlot, method string, params any) (Response, error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.nextRequestID++
	id := slot.nextRequestID
	req := newRequest(&id, method, params)
	if err := writeFrame(slot.stdin, req); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if time.Now().After(deadline) {
			return Response{}, fmt.Errorf("timed out waiting for response to %s", method)
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		if !slot.scanner.Scan() {
			if err := slot.scanner.Err(); err != nil {
				return Response{}, fmt.Errorf("read response: %w", err)
			}
			return Response{}, fmt.Errorf("server closed connection before responding to %s", method)
		}
		line := slot.scanner.Bytes()
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == nil {
			log.Debug().Str("server", slot.cfg.Name).RawJSON("frame", line).Msg("mcp_notification_skipped")
			continue
		}
		if *resp.ID != id {
			continue
		}
		return resp, nil
	}
}

// notify sends a notification frame (no id, no response expected).
func (c *Client) notify(slot *serverSlot, method string, params any) error {
	req := newRequest(nil, method, params)
	return writeFrame(slot.stdin, req)
}

func writeFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Close stops every connected server: closes both pipes, signals
// termination, and reaps non-blockingly.
func (c *Client) Close() {
	for _, slot := range c.servers {
		if slot.cmd == nil || slot.cmd.Process == nil {
			continue
		}
		if slot.stdin != nil {
			_ = slot.stdin.Close()
		}
		_ = slot.cmd.Process.Kill()
		go slot.cmd.Wait()
	}
}
