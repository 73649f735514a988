package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"synapsed/internal/synapseerr"
)

// SubprocessBackend bridges to an external inference process over
// newline-delimited JSON on stdio, the same exec.Command + pipe wiring
// internal/mcp/client.go uses to bridge to MCP servers — applied here to
// the out-of-scope inference collaborator (spec.md §1) instead of a tool
// peer, since no concrete llama.cpp binding ships in this module.
type SubprocessBackend struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	contextWindow int
	nextID        int64
}

type backendRequest struct {
	ID     int64           `json:"id"`
	Op     string          `json:"op"`
	Text   string          `json:"text,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type backendResponse struct {
	ID       int64  `json:"id"`
	Text     string `json:"text,omitempty"`
	NTokens  int    `json:"n_tokens,omitempty"`
	Count    int    `json:"count,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	OK       bool   `json:"ok,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StartSubprocessBackend spawns command and wires its stdio, grounded on
// mcp.Client.connectOne's pipe setup.
func StartSubprocessBackend(command string, args []string, contextWindow int) (*SubprocessBackend, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Init, "inference: stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Init, "inference: stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, synapseerr.Wrap(synapseerr.Init, "inference: start backend process", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), 8*1024*1024)

	if contextWindow <= 0 {
		contextWindow = 8192
	}

	return &SubprocessBackend{cmd: cmd, stdin: stdin, scanner: scanner, contextWindow: contextWindow}, nil
}

// Close terminates the backend process.
func (b *SubprocessBackend) Close() error {
	b.stdin.Close()
	return b.cmd.Wait()
}

func (b *SubprocessBackend) roundTrip(op, text string, params json.RawMessage) (backendResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	req := backendRequest{ID: b.nextID, Op: op, Text: text, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return backendResponse{}, synapseerr.Wrap(synapseerr.Generate, "inference: marshal request", err)
	}
	if _, err := fmt.Fprintf(b.stdin, "%s\n", line); err != nil {
		return backendResponse{}, synapseerr.Wrap(synapseerr.Generate, "inference: write request", err)
	}
	if !b.scanner.Scan() {
		if err := b.scanner.Err(); err != nil {
			return backendResponse{}, synapseerr.Wrap(synapseerr.Generate, "inference: read response", err)
		}
		return backendResponse{}, synapseerr.New(synapseerr.Generate, "inference: backend process closed stdout")
	}
	var resp backendResponse
	if err := json.Unmarshal(b.scanner.Bytes(), &resp); err != nil {
		return backendResponse{}, synapseerr.Wrap(synapseerr.Generate, "inference: parse response", err)
	}
	if resp.Error != "" {
		return backendResponse{}, synapseerr.New(synapseerr.Generate, resp.Error)
	}
	return resp, nil
}

// ContextCapacity returns the configured context window, since the actual
// value lives with the external process's loaded weights.
func (b *SubprocessBackend) ContextCapacity() int { return b.contextWindow }

// CountTokens asks the backend process to tokenize text.
func (b *SubprocessBackend) CountTokens(text string) int {
	resp, err := b.roundTrip("count_tokens", text, nil)
	if err != nil {
		return len(text) * 10 / 35 // degrade to the heuristic rather than fail a non-generation call
	}
	return resp.Count
}

// Complete asks the backend process to generate a completion for prompt.
// The process answers with the whole completion in one frame, so
// params.OnToken, if set, is called once with the full text and its return
// value has no effect.
func (b *SubprocessBackend) Complete(ctx context.Context, prompt string, params Params) (string, int, error) {
	paramsJSON, err := json.Marshal(struct {
		MaxTokens     int     `json:"max_tokens"`
		Temperature   float64 `json:"temperature"`
		TopP          float64 `json:"top_p"`
		TopK          int     `json:"top_k"`
		RepeatPenalty float64 `json:"repeat_penalty"`
		Grammar       string  `json:"grammar,omitempty"`
		GrammarRoot   string  `json:"grammar_root,omitempty"`
	}{
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		RepeatPenalty: params.RepeatPenalty,
		Grammar:       params.Grammar,
		GrammarRoot:   params.GrammarRoot,
	})
	if err != nil {
		return "", 0, synapseerr.Wrap(synapseerr.Generate, "inference: marshal params", err)
	}
	resp, err := b.roundTrip("complete", prompt, paramsJSON)
	if err != nil {
		return "", 0, err
	}
	if params.OnToken != nil {
		params.OnToken(resp.Text)
	}
	return resp.Text, resp.NTokens, nil
}

// ApplyChatTemplate asks the backend process to format messages, or
// reports ok=false if it has none for the loaded model.
func (b *SubprocessBackend) ApplyChatTemplate(messages []Message) (string, bool) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return "", false
	}
	resp, err := b.roundTrip("apply_chat_template", "", payload)
	if err != nil || !resp.OK {
		return "", false
	}
	return resp.Prompt, true
}
