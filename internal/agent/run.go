package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"synapsed/internal/inference"
	"synapsed/internal/jsonscan"
)

// Run executes the one-shot agent loop (spec.md §4.7, "One-shot run"):
// stateless across invocations, up to MaxSteps iterations, terminating on
// a parsed "answer", on MAX_STEPS exhaustion, or on a fatal generation
// error. cb, if non-nil, receives one StepEvent per model decision (twice
// for tool calls: once before execution, once with the observation).
func (a *Agent) Run(ctx context.Context, userInput string, cb StepCallback) Result {
	if strings.TrimSpace(userInput) == "" {
		return Result{Status: StatusInvalid}
	}

	system := a.buildEnrichedSystem(a.oneShotSystem)
	if a.mem != nil {
		if _, err := a.mem.RecallAdd(a.sessionID, "user", userInput, estimateTokens(userInput)); err != nil {
			log.Warn().Err(err).Msg("agent_recall_add_user_failed")
		}
	}

	var (
		steps        []Step
		firstActive  int
		contextSummary string
	)

	for step := 0; step < a.maxSteps; step++ {
		if step >= compactionMinStep {
			active := steps[firstActive:]
			estimate := estimatePromptTokens(system, userInput, contextSummary, active) + a.maxTokensPerStep
			if estimate > int(compactionTriggerFrac*float64(a.contextBudget)) {
				newSummary, newFirstActive := compact(steps, firstActive, contextSummary)
				if newFirstActive > firstActive {
					if a.mem != nil {
						for _, st := range steps[firstActive:newFirstActive] {
							if _, err := a.mem.RecallAdd(a.sessionID, "assistant", st.Raw, estimateTokens(st.Raw)); err != nil {
								log.Warn().Err(err).Msg("agent_recall_flush_compacted_failed")
							}
						}
					}
					contextSummary, firstActive = newSummary, newFirstActive
					log.Debug().Int("step", step).Int("first_active_step", firstActive).Msg("agent_context_compacted")
				}
			}
		}

		msgs := buildMessages(system, userInput, contextSummary, steps[firstActive:])
		prompt := a.formatPrompt(msgs)

		result, err := a.handle.Generate(ctx, inference.Params{
			Prompt:      prompt,
			MaxTokens:   a.maxTokensPerStep,
			Temperature: a.temperatureOneShot,
			Grammar:     a.grammarOneShot,
			GrammarRoot: "root",
		})
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("agent_generate_failed")
			return Result{Status: StatusGenerate, StepsTaken: step}
		}

		thought, answer, _, action, argsJSON, hasAnswer, _, hasAction := parseGeneration(result.Text)

		if hasAnswer {
			final := jsonscan.Unescape(answer)
			if cb != nil {
				cb(StepEvent{StepIndex: step, Thought: thought, Action: "final_answer"})
			}
			if a.mem != nil {
				if _, err := a.mem.RecallAdd(a.sessionID, "assistant", final, estimateTokens(final)); err != nil {
					log.Warn().Err(err).Msg("agent_recall_add_answer_failed")
				}
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

	return Result{Status: StatusMaxSteps, StepsTaken: a.maxSteps}
}
