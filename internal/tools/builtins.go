// Built-in tools registered by capability mask (spec.md §4.4). Grounded on
// the teacher's cmd/mcpserver/mcpserver.go tool set (read_file, write_file,
// list_directory, search_files, shell/git commands, calculate, time) and
// internal/tools/web.go (http_get), generalized into spec.md's tool
// descriptor shape and its subprocess-sanitation contract.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"synapsed/internal/jsonscan"
)

const readFileMaxBytes = 64 * 1024
const searchFilesMaxResults = 20
const searchFilesMaxDepth = 4
const httpGetMaxBytes = 32 * 1024
const httpGetTimeout = 10 * time.Second

// RegisterDefaults registers exactly the built-in tools whose required
// capabilities are a subset of granted (spec.md §8 "Capability gating").
func RegisterDefaults(r *Registry, granted Capability) error {
	candidates := []Descriptor{
		shellDescriptor(),
		readFileDescriptor(),
		writeFileDescriptor(),
		listDirDescriptor(),
		searchFilesDescriptor(),
		readPDFDescriptor(),
		httpGetDescriptor(),
		calculateDescriptor(),
		getTimeDescriptor(),
	}
	for _, d := range candidates {
		if !HasCapabilities(d.RequiredCapabilities, granted) {
			continue
		}
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func argString(argsJSON, key string, fallback string) string {
	if v, ok := jsonscan.FindString(argsJSON, key); ok {
		return v
	}
	return fallback
}

// --- shell ---

func shellDescriptor() Descriptor {
	return Descriptor{
		Name:        "shell",
		Description: "Executes a shell command and returns combined stdout/stderr.",
		ArgsSchema:  `{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`,
		Executor:    shellExecute,
		RequiredCapabilities: CapShell,
	}
}

// shellExecute runs the given command through /bin/sh -c. Unlike the other
// subprocess tools below, "shell" IS the raw shell — its whole purpose is
// to run arbitrary shell syntax (pipes, redirects, `;` chains), so the
// metacharacter rejection spec.md §4.4 describes for *other* tools does
// not apply here; the capability mask is this tool's only gate.
func shellExecute(ctx context.Context, _ any, argsJSON string) Result {
	command := argString(argsJSON, "command", "")
	if strings.TrimSpace(command) == "" {
		return Err("command is required")
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return Err("shell command failed: %v\n%s", err, out.String())
	}
	return Ok(out.String())
}

// --- read_file ---

func readFileDescriptor() Descriptor {
	return Descriptor{
		Name:        "read_file",
		Description: "Reads a text file, optionally windowed by 1-indexed start_line/end_line; truncates beyond 64 KiB.",
		ArgsSchema:  `{"type":"object","properties":{"path":{"type":"string"},"start_line":{"type":"integer"},"end_line":{"type":"integer"}},"required":["path"]}`,
		Executor:    readFileExecute,
		RequiredCapabilities: CapFilesystem,
	}
}

func readFileExecute(_ context.Context, _ any, argsJSON string) Result {
	path := argString(argsJSON, "path", "")
	if path == "" {
		return Err("path is required")
	}
	startLine := jsonscan.FindInt(argsJSON, "start_line", 0)
	endLine := jsonscan.FindInt(argsJSON, "end_line", 0)

	if startLine > 0 || endLine > 0 {
		return readFileWindow(path, int(startLine), int(endLine))
	}

	f, err := os.Open(path)
	if err != nil {
		return Err("failed to open file: %v", err)
	}
	defer f.Close()

	buf := make([]byte, readFileMaxBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Err("failed to read file: %v", err)
	}
	truncated := n > readFileMaxBytes
	if truncated {
		n = readFileMaxBytes
	}
	out := string(buf[:n])
	if truncated {
		out += "\n...[truncated at 64 KiB]"
	}
	return Ok(out)
}

func readFileWindow(path string, start, end int) Result {
	f, err := os.Open(path)
	if err != nil {
		return Err("failed to open file: %v", err)
	}
	defer f.Close()

	if start <= 0 {
		start = 1
	}
	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line < start {
			continue
		}
		if end > 0 && line > end {
			break
		}
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return Err("failed to read file: %v", err)
	}
	return Ok(b.String())
}

// --- write_file ---

func writeFileDescriptor() Descriptor {
	return Descriptor{
		Name:        "write_file",
		Description: "Writes text content to a file, creating or overwriting it.",
		ArgsSchema:  `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`,
		Executor:    writeFileExecute,
		RequiredCapabilities: CapFilesystem,
	}
}

func writeFileExecute(_ context.Context, _ any, argsJSON string) Result {
	path := argString(argsJSON, "path", "")
	if path == "" {
		return Err("path is required")
	}
	content := argString(argsJSON, "content", "")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Err("failed to write file: %v", err)
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// --- list_dir ---

func listDirDescriptor() Descriptor {
	return Descriptor{
		Name:        "list_dir",
		Description: "Lists entries of a directory as a JSON array of {name,type}.",
		ArgsSchema:  `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
		Executor:    listDirExecute,
		RequiredCapabilities: CapFilesystem,
	}
}

type dirEntryJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func listDirExecute(_ context.Context, _ any, argsJSON string) Result {
	path := argString(argsJSON, "path", ".")
	entries, err := os.ReadDir(path)
	if err != nil {
		return Err("failed to read directory: %v", err)
	}
	out := make([]dirEntryJSON, 0, len(entries))
	for _, e := range entries {
		typ := "file"
		if e.IsDir() {
			typ = "dir"
		}
		out = append(out, dirEntryJSON{Name: e.Name(), Type: typ})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return Err("failed to marshal listing: %v", err)
	}
	return Ok(string(b))
}

// --- search_files ---

func searchFilesDescriptor() Descriptor {
	return Descriptor{
		Name:        "search_files",
		Description: "Globs for files matching pattern under root, bounded to depth 4 and 20 results.",
		ArgsSchema:  `{"type":"object","properties":{"root":{"type":"string"},"pattern":{"type":"string"}},"required":["root","pattern"]}`,
		Executor:    searchFilesExecute,
		RequiredCapabilities: CapFilesystem,
	}
}

func searchFilesExecute(_ context.Context, _ any, argsJSON string) Result {
	root := argString(argsJSON, "root", ".")
	pattern := argString(argsJSON, "pattern", "*")
	if msg, bad := rejectShellMetacharacters(pattern); bad {
		return Err(msg)
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= searchFilesMaxResults {
			return filepath.SkipAll
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr == nil && strings.Count(rel, string(filepath.Separator)) > searchFilesMaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, p)
		}
		return nil
	})
	if walkErr != nil {
		return Err("search failed: %v", walkErr)
	}
	sort.Strings(matches)
	b, err := json.Marshal(matches)
	if err != nil {
		return Err("failed to marshal results: %v", err)
	}
	return Ok(string(b))
}

// --- read_pdf ---

func readPDFDescriptor() Descriptor {
	return Descriptor{
		Name:        "read_pdf",
		Description: "Extracts text from a PDF, optionally limited to a page range.",
		ArgsSchema:  `{"type":"object","properties":{"path":{"type":"string"},"start_page":{"type":"integer"},"end_page":{"type":"integer"}},"required":["path"]}`,
		Executor:    readPDFExecute,
		RequiredCapabilities: CapFilesystem,
	}
}

func readPDFExecute(ctx context.Context, _ any, argsJSON string) Result {
	path := argString(argsJSON, "path", "")
	if path == "" {
		return Err("path is required")
	}
	if msg, bad := rejectShellMetacharacters(path); bad {
		return Err(msg)
	}
	if text, err := readPDFViaSystemExtractor(ctx, path); err == nil {
		return Ok(text)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Err("failed to read pdf: %v", err)
	}
	return Ok(extractPDFLiteralText(raw))
}

// readPDFViaSystemExtractor shells out to `pdftotext`, the system text
// extractor spec.md §4.4 describes as the primary path; absence of the
// binary (the common case in a minimal container) falls back to
// extractPDFLiteralText.
func readPDFViaSystemExtractor(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "pdftotext", path, "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// extractPDFLiteralText is the minimal in-process fallback parser spec.md
// §4.4 describes: it scans for literal parenthesized text blocks between
// BT/ET (begin-text/end-text) operators, the simplest PDF content-stream
// text-showing form, ignoring everything else (compression, fonts,
// positioning). It does not handle hex strings or compressed streams.
func extractPDFLiteralText(raw []byte) string {
	var b strings.Builder
	text := string(raw)
	for {
		btIdx := strings.Index(text, "BT")
		if btIdx < 0 {
			break
		}
		etIdx := strings.Index(text[btIdx:], "ET")
		if etIdx < 0 {
			break
		}
		block := text[btIdx : btIdx+etIdx]
		extractParenStrings(block, &b)
		text = text[btIdx+etIdx+2:]
	}
	return b.String()
}

func extractParenStrings(block string, b *strings.Builder) {
	depth := 0
	start := -1
	for i := 0; i < len(block); i++ {
		switch block[i] {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					b.WriteString(unescapePDFLiteral(block[start:i]))
					b.WriteByte(' ')
				}
			}
		case '\\':
			i++ // skip escaped char so a `\)` doesn't end the string early
		}
	}
}

func unescapePDFLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// --- http_get ---

func httpGetDescriptor() Descriptor {
	return Descriptor{
		Name:        "http_get",
		Description: "Fetches a URL over HTTP GET, capped at 32 KiB and 10 seconds.",
		ArgsSchema:  `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
		Executor:    httpGetExecute,
		RequiredCapabilities: CapNetwork,
	}
}

func httpGetExecute(ctx context.Context, _ any, argsJSON string) Result {
	url := argString(argsJSON, "url", "")
	if url == "" {
		return Err("url is required")
	}
	client := &http.Client{Timeout: httpGetTimeout}
	reqCtx, cancel := context.WithTimeout(ctx, httpGetTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Err("invalid url: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Err("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetMaxBytes+1))
	if err != nil {
		return Err("failed to read response: %v", err)
	}
	truncated := len(body) > httpGetMaxBytes
	if truncated {
		body = body[:httpGetMaxBytes]
	}
	out := string(body)
	if truncated {
		out += "\n...[truncated at 32 KiB]"
	}
	return Ok(out)
}

// --- calculate ---

func calculateDescriptor() Descriptor {
	return Descriptor{
		Name:        "calculate",
		Description: "Evaluates a sanitized arithmetic expression via the system calculator.",
		ArgsSchema:  `{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`,
		Executor:    calculateExecute,
	}
}

func calculateExecute(ctx context.Context, _ any, argsJSON string) Result {
	expr := argString(argsJSON, "expression", "")
	if expr == "" {
		return Err("expression is required")
	}
	if msg, bad := rejectShellMetacharacters(expr); bad {
		return Err(msg)
	}
	if !mathExprAllowed(expr) {
		return Err("expression contains disallowed characters")
	}
	cmd := exec.CommandContext(ctx, "bc", "-l")
	cmd.Stdin = strings.NewReader(expr + "\n")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return Err("calculation failed: %v", err)
	}
	return Ok(strings.TrimSpace(out.String()))
}

// --- get_time ---

func getTimeDescriptor() Descriptor {
	return Descriptor{
		Name:        "get_time",
		Description: "Returns the current time, optionally in a Go reference-layout format.",
		ArgsSchema:  `{"type":"object","properties":{"format":{"type":"string"}}}`,
		Executor:    getTimeExecute,
	}
}

func getTimeExecute(_ context.Context, _ any, argsJSON string) Result {
	layout := argString(argsJSON, "format", time.RFC3339)
	return Ok(time.Now().Format(layout))
}
