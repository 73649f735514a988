package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"synapsed/internal/inference"
	"synapsed/internal/jsonscan"
)

// maxStepsFallbackText is the generic reply spec.md §7 requires when an
// interactive turn exhausts its step budget ("so the conversation does not
// terminate abruptly").
const maxStepsFallbackText = "I wasn't able to finish that within my step budget. Could you simplify the request or try again?"

// Chat executes one interactive turn (spec.md §4.7, "Interactive run"):
// multi-turn and stateful through the Agent's conversation history. Tool
// calls made while producing this turn's response are kept in a turn-local
// buffer and never become part of the persistent history; only the final
// assistant text (a "reply" or an "answer") is appended.
func (a *Agent) Chat(ctx context.Context, userInput string, cb StepCallback) Result {
	if strings.TrimSpace(userInput) == "" {
		return Result{Status: StatusInvalid}
	}

	a.history = append(a.history, message{role: "user", content: userInput})
	system := a.buildEnrichedSystem(a.interactiveSystem)

	var (
		steps          []Step
		firstActive    int
		contextSummary string
	)

	for step := 0; step < a.maxSteps; step++ {
		if step >= compactionMinStep {
			active := steps[firstActive:]
			estimate := estimatePromptTokens(system, "", contextSummary, active) + a.maxTokensPerStep
			for _, h := range a.history {
				estimate += estimateTokens(h.content) + stepOverheadTokens
			}
			if estimate > int(compactionTriggerFrac*float64(a.contextBudget)) {
				newSummary, newFirstActive := compact(steps, firstActive, contextSummary)
				if newFirstActive > firstActive {
					contextSummary, firstActive = newSummary, newFirstActive
					log.Debug().Int("step", step).Int("first_active_step", firstActive).Msg("agent_chat_context_compacted")
				}
			}
		}

		msgs := a.interactiveMessages(system, contextSummary, steps[firstActive:])
		prompt := a.formatPrompt(msgs)

		result, err := a.handle.Generate(ctx, inference.Params{
			Prompt:      prompt,
			MaxTokens:   a.maxTokensPerStep,
			Temperature: a.temperatureChat,
			Grammar:     a.grammarInteractive,
			GrammarRoot: "root",
		})
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("agent_chat_generate_failed")
			return Result{Status: StatusGenerate, StepsTaken: step}
		}

		thought, answer, reply, action, argsJSON, hasAnswer, hasReply, hasAction := parseGeneration(result.Text)

		if hasReply {
			final := jsonscan.Unescape(reply)
			a.history = append(a.history, message{role: "assistant", content: final})
			if cb != nil {
				cb(StepEvent{StepIndex: step, Thought: thought, Action: "reply"})
			}
			return Result{Text: final, Status: StatusOK, StepsTaken: step + 1}
		}

		if hasAnswer {
			final := jsonscan.Unescape(answer)
			a.history = append(a.history, message{role: "assistant", content: final})
			if cb != nil {
				cb(StepEvent{StepIndex: step, Thought: thought, Action: "final_answer"})
			}
			return Result{Text: final, Status: StatusOK, StepsTaken: step + 1}
		}

		if hasAction {
			if cb != nil {
				cb(StepEvent{StepIndex: step, Thought: thought, Action: action})
			}
			obs := a.executeTool(ctx, action, argsJSON)
			if cb != nil {
				cb(StepEvent{StepIndex: step, Thought: thought, Action: action, Observation: obs})
			}
			steps = append(steps, Step{Thought: thought, Action: action, Observation: obs, Raw: result.Text})
			continue
		}

		if cb != nil {
			cb(StepEvent{StepIndex: step, Thought: thought, Action: "error", Observation: malformedObservation})
		}
		steps = append(steps, Step{Thought: thought, Action: "error", Observation: malformedObservation, Raw: result.Text})
	}

	a.history = append(a.history, message{role: "assistant", content: maxStepsFallbackText})
	return Result{Text: maxStepsFallbackText, Status: StatusMaxSteps, StepsTaken: a.maxSteps}
}

// interactiveMessages assembles system + persistent history + optional
// context summary + turn-local step pairs.
func (a *Agent) interactiveMessages(system, summary string, steps []Step) []inference.Message {
	msgs := make([]inference.Message, 0, 1+len(a.history)+2*len(steps)+1)
	msgs = append(msgs, inference.Message{Role: "system", Content: system})
	for _, h := range a.history {
		msgs = append(msgs, inference.Message{Role: h.role, Content: h.content})
	}
	if summary != "" {
		msgs = append(msgs, inference.Message{Role: "user", Content: summary})
	}
	for _, st := range steps {
		msgs = append(msgs, inference.Message{Role: "assistant", Content: st.Raw})
		msgs = append(msgs, inference.Message{Role: "user", Content: observationText(st)})
	}
	return msgs
}

// ClearHistory resets the conversation history without touching memory
// (spec.md §4.7, "clear_history()").
func (a *Agent) ClearHistory() {
	a.history = a.history[:0]
}

// HistoryLen reports the number of messages currently in the conversation
// history, for tests and introspection.
func (a *Agent) HistoryLen() int { return len(a.history) }
