package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"synapsed/internal/agent/prompts"
	"synapsed/internal/grammar"
	"synapsed/internal/inference"
	"synapsed/internal/jsonscan"
	"synapsed/internal/memory"
	"synapsed/internal/synapseerr"
	"synapsed/internal/tools"
)

// Defaults for Params fields left unset (spec.md §4.7, "Creation").
const (
	DefaultMaxSteps          = 10
	DefaultMaxTokensPerStep  = 512
	DefaultTemperatureOneShot = 0.3
	DefaultTemperatureChat    = 0.7
	defaultContextBudgetMin   = 1536
	defaultContextBudgetFrac  = 0.80
)

// compactionTriggerFrac, compactionTailKeep, and observationTruncateLen are
// the context-compaction constants spec.md §4.7 step 3 names literally.
const (
	compactionTriggerFrac = 0.80
	compactionMinStep     = 3
	compactionTailKeep    = 2
	observationTruncateLen = 80
	stepOverheadTokens     = 20
)

// estimateTokens approximates a token count from character length using the
// heuristic spec.md §4.7 pins down: ~3.5 chars/token.
func estimateTokens(s string) int {
	return len(s) * 10 / 35
}

// Params configures one Agent (spec.md §4.7, "Creation").
type Params struct {
	MaxSteps         int
	MaxTokensPerStep int
	// Temperature, if > 0, overrides both the one-shot and interactive
	// defaults (0.3 and 0.7 respectively).
	Temperature   float64
	ContextBudget int
	Verbose       bool
}

// Agent is the ReAct loop: non-owning references to a loaded model, a tool
// registry, and (optionally) a memory store, which must outlive it (spec.md
// §9, "Agent holds non-owning refs").
type Agent struct {
	handle   *inference.Handle
	registry *tools.Registry
	mem      *memory.Store
	sessionID int64

	maxSteps           int
	maxTokensPerStep   int
	temperatureOneShot float64
	temperatureChat    float64
	contextBudget      int
	verbose            bool

	oneShotSystem     string
	interactiveSystem string
	grammarOneShot    string
	grammarInteractive string

	history []message
}

// New builds an Agent: chooses prompt templates by modelParams (spec.md
// §4.7 step 1, the ≤4e9/>4e9 small/large split), splices the tool catalog
// into both templates (step 2), and allocates the interactive history
// buffer (step 3). registry and mem may be nil (no tools / no memory
// attached, respectively).
func New(handle *inference.Handle, registry *tools.Registry, mem *memory.Store, modelParams int64, params Params) *Agent {
	a := &Agent{
		handle:    handle,
		registry:  registry,
		mem:       mem,
		sessionID: memory.DefaultSessionID,
		verbose:   params.Verbose,
	}

	a.maxSteps = params.MaxSteps
	if a.maxSteps <= 0 {
		a.maxSteps = DefaultMaxSteps
	}
	a.maxTokensPerStep = params.MaxTokensPerStep
	if a.maxTokensPerStep <= 0 {
		a.maxTokensPerStep = DefaultMaxTokensPerStep
	}
	a.temperatureOneShot = DefaultTemperatureOneShot
	a.temperatureChat = DefaultTemperatureChat
	if params.Temperature > 0 {
		a.temperatureOneShot = params.Temperature
		a.temperatureChat = params.Temperature
	}

	a.contextBudget = params.ContextBudget
	if a.contextBudget <= 0 {
		cmax := 0
		if handle != nil {
			cmax = handle.ContextCapacity()
		}
		a.contextBudget = int(float64(cmax) * defaultContextBudgetFrac)
		if a.contextBudget < defaultContextBudgetMin {
			a.contextBudget = defaultContextBudgetMin
		}
	}

	catalog, toolNames := "", ""
	if registry != nil {
		catalog = registry.PromptDescription()
		toolNames = registry.GrammarNames()
	}
	a.oneShotSystem = prompts.OneShot(modelParams, catalog)
	a.interactiveSystem = prompts.Interactive(modelParams, catalog)
	a.grammarOneShot = grammar.WithToolNames(grammar.OneShot, toolNames)
	a.grammarInteractive = grammar.WithToolNames(grammar.Interactive, toolNames)

	a.history = make([]message, 0, 32)
	return a
}

// SetSession scopes recall-log writes to an existing session id instead of
// memory.DefaultSessionID.
func (a *Agent) SetSession(id int64) { a.sessionID = id }

// buildEnrichedSystem appends the core-memory dump and recall/archival
// stats line to base (spec.md §4.7 step 1). This enriched prompt is
// computed fresh per call and never mutates the Agent's stored template,
// which is how "the base system prompt is restored on exit" is satisfied
// without explicit save/restore bookkeeping.
func (a *Agent) buildEnrichedSystem(base string) string {
	if a.mem == nil {
		return base
	}
	dump, err := a.mem.CoreDump()
	if err != nil {
		log.Warn().Err(err).Msg("agent_core_dump_failed")
		dump = ""
	}
	msgCount, tokenSum, err := a.mem.RecallStats(a.sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("agent_recall_stats_failed")
	}
	archCount, err := a.mem.ArchivalCount()
	if err != nil {
		log.Warn().Err(err).Msg("agent_archival_count_failed")
	}
	stats := fmt.Sprintf("Recall memory: %d messages (%d tokens); Archival memory: %d facts", msgCount, tokenSum, archCount)
	return base + "\n\n" + dump + stats
}

// estimatePromptTokens approximates the token cost of the assembled prompt:
// system + user input + optional summary + each active step's output and
// observation, each carrying ~stepOverheadTokens of role-tag overhead
// (spec.md §4.7, "Token estimation heuristic").
func estimatePromptTokens(system, userInput, summary string, steps []Step) int {
	total := estimateTokens(system) + stepOverheadTokens
	total += estimateTokens(userInput) + stepOverheadTokens
	if summary != "" {
		total += estimateTokens(summary) + stepOverheadTokens
	}
	for _, st := range steps {
		total += estimateTokens(st.Raw) + stepOverheadTokens
		total += estimateTokens(observationText(st)) + stepOverheadTokens
	}
	return total
}

func observationText(st Step) string {
	return fmt.Sprintf("Observation from %s: %s", st.Action, st.Observation)
}

// compact summarizes steps[firstActive:tailStart] (everything but the last
// compactionTailKeep steps) into a short bracketed string, truncating each
// observation to observationTruncateLen characters, and merges it with any
// pre-existing summary (spec.md §4.7 step 3). Returns the new summary and
// the new first-active index.
func compact(steps []Step, firstActive int, existingSummary string) (string, int) {
	tailStart := len(steps) - compactionTailKeep
	if tailStart < firstActive {
		return existingSummary, firstActive
	}

	var b strings.Builder
	b.WriteString("[Earlier steps: ")
	for _, st := range steps[firstActive:tailStart] {
		obs := st.Observation
		if len(obs) > observationTruncateLen {
			obs = obs[:observationTruncateLen]
		}
		fmt.Fprintf(&b, "Used %s -> %s… ", st.Action, obs)
	}
	b.WriteString("]")

	summary := b.String()
	if existingSummary != "" {
		summary = existingSummary + " " + summary
	}
	return summary, tailStart
}

// buildMessages assembles the chat-template message list for a generation
// call: system, user input, optional context summary, then alternating
// assistant-step-output/user-observation pairs for the active window
// (spec.md §4.7 step 4).
func buildMessages(system, userInput, summary string, steps []Step) []inference.Message {
	msgs := make([]inference.Message, 0, 3+2*len(steps))
	msgs = append(msgs, inference.Message{Role: "system", Content: system})
	msgs = append(msgs, inference.Message{Role: "user", Content: userInput})
	if summary != "" {
		msgs = append(msgs, inference.Message{Role: "user", Content: summary})
	}
	for _, st := range steps {
		msgs = append(msgs, inference.Message{Role: "assistant", Content: st.Raw})
		msgs = append(msgs, inference.Message{Role: "user", Content: observationText(st)})
	}
	return msgs
}

// plainTextJoin is the fallback prompt layout used when the inference
// backend has no chat template for the loaded model (spec.md §4.7 step 4,
// "fall back to a plain-text join").
func plainTextJoin(msgs []inference.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	return b.String()
}

// formatPrompt applies the backend's chat template, falling back to a
// plain-text join if unavailable.
func (a *Agent) formatPrompt(msgs []inference.Message) string {
	if prompt, ok := a.handle.FormatMessages(msgs); ok {
		return prompt
	}
	return plainTextJoin(msgs)
}

// malformedObservation is the corrective text synthesized when a
// generation parses as JSON but carries neither "answer" nor "action"
// (spec.md §4.7 step 7).
const malformedObservation = `malformed response: expected a JSON object shaped {"thought":...,"action":...,"args":{...}} or {"thought":...,"answer":...}`

// parseGeneration parses one generation's raw text and returns the
// resulting step-or-terminal classification: at most one of hasAnswer,
// hasReply, or hasAction is set, checked in that order. "reply" is always
// recognized; Run ignores hasReply, since the one-shot grammar never
// produces that shape.
func parseGeneration(raw string) (thought, answer, reply, action, argsJSON string, hasAnswer, hasReply, hasAction bool) {
	thought, _ = jsonscan.FindString(raw, "thought")
	if a, ok := jsonscan.FindString(raw, "answer"); ok {
		answer, hasAnswer = a, true
		return
	}
	if r, ok := jsonscan.FindString(raw, "reply"); ok {
		reply, hasReply = r, true
		return
	}
	if act, ok := jsonscan.FindString(raw, "action"); ok {
		action, hasAction = act, true
		if obj, ok := jsonscan.ExtractObject(raw, "args"); ok {
			argsJSON = obj
		} else {
			argsJSON = "{}"
		}
		return
	}
	return
}

// executeTool runs action against the registry (or synthesizes a
// "no registry attached" observation if none is configured), matching
// spec.md §7's "tool-execution failure is NOT fatal" policy.
func (a *Agent) executeTool(ctx context.Context, action, argsJSON string) string {
	if a.registry == nil {
		return synapseerr.New(synapseerr.ToolNotFound, "no tool registry attached").Error()
	}
	res := a.registry.Execute(ctx, action, argsJSON)
	if res.Success {
		return res.Output
	}
	return res.Error
}
