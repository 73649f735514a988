package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsed/internal/inference"
	"synapsed/internal/mcp"
	"synapsed/internal/tools"
)

func calcStub(result string) tools.Descriptor {
	return tools.Descriptor{
		Name:        "calculate",
		Description: "evaluates an arithmetic expression",
		ArgsSchema:  `{"type":"object","properties":{"expression":{"type":"string"}}}`,
		Executor: func(_ context.Context, _ any, argsJSON string) tools.Result {
			return tools.Ok(result)
		},
	}
}

func newTestAgent(t *testing.T, backend *inference.FakeBackend, reg *tools.Registry, params Params) *Agent {
	t.Helper()
	engine := inference.NewEngine(1, 0, false)
	handle := engine.Load(backend, "test-template")
	return New(handle, reg, nil, 1_000_000, params)
}

// Scenario 1 (spec.md §8): pure arithmetic tool.
func TestRunPureArithmeticToolScenario(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(calcStub("120")))

	backend := &inference.FakeBackend{
		ChatTemplateOK: true,
		Responses: []string{
			`{"thought":"compute 12*(7+3)","action":"calculate","args":{"expression":"12*(7+3)"}}`,
			`{"thought":"done","answer":"The answer is 120"}`,
		},
	}
	a := newTestAgent(t, backend, reg, Params{})

	var events []StepEvent
	result := a.Run(context.Background(), "What is 12 * (7 + 3)?", func(ev StepEvent) { events = append(events, ev) })

	require.Equal(t, StatusOK, result.Status)
	require.Contains(t, result.Text, "120")
	require.Equal(t, 2, result.StepsTaken)

	var sawObservation bool
	for _, ev := range events {
		if ev.Action == "calculate" && ev.Observation == "120" {
			sawObservation = true
		}
	}
	require.True(t, sawObservation)
}

// Scenario 4 (spec.md §8): max-steps exhaustion.
func TestRunMaxStepsExhaustion(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(calcStub("42")))

	responses := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, fmt.Sprintf(`{"thought":"step %d","action":"calculate","args":{"expression":"1+1"}}`, i))
	}
	backend := &inference.FakeBackend{ChatTemplateOK: true, Responses: responses}
	a := newTestAgent(t, backend, reg, Params{MaxSteps: 2})

	result := a.Run(context.Background(), "do five things", nil)
	require.Equal(t, StatusMaxSteps, result.Status)
	require.Equal(t, "", result.Text)
	require.Equal(t, 2, result.StepsTaken)
}

// Interactive counterpart of scenario 4: MAX_STEPS still produces a
// user-visible fallback and appends to history (spec.md §7).
func TestChatMaxStepsExhaustionProducesFallback(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(calcStub("42")))

	responses := []string{
		`{"thought":"a","action":"calculate","args":{}}`,
		`{"thought":"b","action":"calculate","args":{}}`,
		`{"thought":"c","action":"calculate","args":{}}`,
	}
	backend := &inference.FakeBackend{ChatTemplateOK: true, Responses: responses}
	a := newTestAgent(t, backend, reg, Params{MaxSteps: 2})

	result := a.Chat(context.Background(), "do three things", nil)
	require.Equal(t, StatusMaxSteps, result.Status)
	require.NotEmpty(t, result.Text)
	require.Equal(t, 2, a.HistoryLen()) // user input + fallback assistant message
}

// Scenario 6 (spec.md §8): interactive reply vs tool.
func TestChatInteractiveReplyScenario(t *testing.T) {
	backend := &inference.FakeBackend{
		ChatTemplateOK: true,
		Responses:      []string{`{"reply":"Hi! How can I help you today?"}`},
	}
	a := newTestAgent(t, backend, nil, Params{})

	var events []StepEvent
	result := a.Chat(context.Background(), "Hi there!", func(ev StepEvent) { events = append(events, ev) })

	require.Equal(t, StatusOK, result.Status)
	require.Equal(t, 1, result.StepsTaken)
	require.Equal(t, 2, a.HistoryLen())
	require.Len(t, events, 1)
	require.Equal(t, "reply", events[0].Action)
}

// Malformed model output is not fatal: the loop synthesizes a corrective
// observation and gives the model another step (spec.md §7).
func TestRunRecoversFromMalformedOutput(t *testing.T) {
	backend := &inference.FakeBackend{
		ChatTemplateOK: true,
		Responses: []string{
			`not json at all`,
			`{"thought":"recovered","answer":"ok now"}`,
		},
	}
	a := newTestAgent(t, backend, nil, Params{})

	result := a.Run(context.Background(), "confuse me", nil)
	require.Equal(t, StatusOK, result.Status)
	require.Contains(t, result.Text, "ok now")
	require.Equal(t, 2, result.StepsTaken)
}

// Unit test of the compaction primitive directly (spec.md §4.7 step 3):
// the last compactionTailKeep steps stay verbatim, everything before the
// tail is folded into a truncated summary, and repeated compaction merges
// with the existing summary.
func TestCompactAdvancesFirstActiveAndTruncatesObservations(t *testing.T) {
	longObs := strings.Repeat("x", 200)
	steps := []Step{
		{Action: "tool_a", Observation: longObs, Raw: `{}`},
		{Action: "tool_b", Observation: longObs, Raw: `{}`},
		{Action: "tool_c", Observation: longObs, Raw: `{}`},
		{Action: "tool_d", Observation: longObs, Raw: `{}`},
	}

	summary, firstActive := compact(steps, 0, "")
	require.Equal(t, len(steps)-compactionTailKeep, firstActive)
	require.Contains(t, summary, "tool_a")
	require.Contains(t, summary, "tool_b")
	require.NotContains(t, summary, "tool_c") // kept verbatim in the tail, not summarized
	require.Less(t, len(summary), len(longObs)) // each observation was truncated, not copied whole

	more := append(steps, Step{Action: "tool_e", Observation: longObs, Raw: `{}`}, Step{Action: "tool_f", Observation: longObs, Raw: `{}`})
	summary2, firstActive2 := compact(more, firstActive, summary)
	require.Greater(t, firstActive2, firstActive)
	require.Contains(t, summary2, summary) // merged with pre-existing summary
}

// Scenario 3 (spec.md §8): repeated large observations under a tight
// context budget still let the run terminate — estimated prompt tokens
// never force generation past the configured budget because compaction
// keeps the active window bounded.
func TestRunCompactsUnderTightContextBudget(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(calcStub(strings.Repeat("y", 500))))

	responses := make([]string, 0, 7)
	for i := 0; i < 6; i++ {
		responses = append(responses, fmt.Sprintf(`{"thought":"step %d","action":"calculate","args":{"expression":"1+1"}}`, i))
	}
	responses = append(responses, `{"thought":"done","answer":"finished after compaction"}`)

	backend := &inference.FakeBackend{Capacity: 1_000_000, ChatTemplateOK: true, Responses: responses}
	a := newTestAgent(t, backend, reg, Params{MaxSteps: 8, MaxTokensPerStep: 200, ContextBudget: 2048})

	result := a.Run(context.Background(), "run a long multi-step task", nil)
	require.Equal(t, StatusOK, result.Status)
	require.Contains(t, result.Text, "finished after compaction")
}

// Scenario 5 (spec.md §8): MCP tool discovery feeds straight into the
// agent loop — a remote "echo" tool registered via mcp.Client.RegisterTools
// is dispatched exactly like a local tool.
func TestRunRoutesToolCallThroughMCPClient(t *testing.T) {
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
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes","inputSchema":{"type":"object"}},{"name":"add","description":"adds","inputSchema":{"type":"object"}}]}}'
      ;;
    *'"method":"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"remote-echo-result"}],"isError":false}}'
      ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	client := mcp.NewClient()
	require.NoError(t, client.AddServer(mcp.ServerConfig{Name: "fake", Command: path}))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	require.Equal(t, 2, client.ToolCount())

	reg := tools.NewRegistry()
	require.NoError(t, client.RegisterTools(reg))

	backend := &inference.FakeBackend{
		ChatTemplateOK: true,
		Responses: []string{
			`{"thought":"use remote echo","action":"echo","args":{"text":"hi"}}`,
			`{"thought":"done","answer":"remote-echo-result"}`,
		},
	}
	a := newTestAgent(t, backend, reg, Params{})

	result := a.Run(context.Background(), "echo hi via the remote tool", nil)
	require.Equal(t, StatusOK, result.Status)
	require.Contains(t, result.Text, "remote-echo-result")
}

// Empty input is an invalid param, not a generation attempt.
func TestRunRejectsEmptyInput(t *testing.T) {
	a := newTestAgent(t, &inference.FakeBackend{}, nil, Params{})
	result := a.Run(context.Background(), "   ", nil)
	require.Equal(t, StatusInvalid, result.Status)
}
