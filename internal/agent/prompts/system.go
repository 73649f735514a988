// Package prompts builds the system-prompt templates for the Agent Core's
// one-shot and interactive entry points (spec.md §4.7 step 1). Grounded on
// the teacher's internal/agent/engine.go BuildInitialLLMMessages and its
// fmt.Sprintf-based system-prompt assembly, split out as a standalone
// package since the template text itself branches on model size and mode
// and is large enough to warrant its own file.
package prompts

import "fmt"

// SmallModelThreshold is the parameter-count boundary spec.md §4.7 names
// ("small (≤ 4 × 10⁹) gets terse templates... large (> 4 × 10⁹)").
const SmallModelThreshold int64 = 4_000_000_000

const smallOneShot = `You are a tool-using assistant. On every turn, respond with exactly one JSON object and nothing else.

To call a tool:
{"thought": "why you are calling it", "action": "<tool name>", "args": {...}}

To give your final answer:
{"thought": "brief reasoning", "answer": "the answer text"}

Available tools:
%s
Respond with exactly one JSON object. No prose outside the object.`

const largeOneShot = `You are an assistant that solves tasks by reasoning step by step and, when useful, invoking tools from a fixed catalog. Each turn you must emit exactly one JSON object conforming to one of two shapes.

When you need a tool, emit:
{"thought": "<your reasoning for this step>", "action": "<the tool's exact name>", "args": {<arguments matching the tool's schema>}}

When you have everything you need to answer the user, emit:
{"thought": "<a brief closing rationale>", "answer": "<the complete final answer>"}

You may take multiple steps, observing each tool's result before deciding the next action. Do not fabricate tool results or skip straight to an answer you have not verified through available tools when verification is possible.

Tool catalog:
%s
Always reply with a single well-formed JSON object matching one of the two shapes above — never markdown, never commentary outside the object.`

const smallInteractive = `You are a tool-using conversational assistant. On every turn, respond with exactly one JSON object and nothing else.

To call a tool:
{"thought": "why you are calling it", "action": "<tool name>", "args": {...}}

To give a final answer to a multi-step task:
{"thought": "brief reasoning", "answer": "the answer text"}

To just chat, with no tool needed:
{"reply": "your conversational response"}

Available tools:
%s
Respond with exactly one JSON object. No prose outside the object.`

const largeInteractive = `You are a conversational assistant that can reason step by step and invoke tools from a fixed catalog when a request requires them. Each turn you must emit exactly one JSON object conforming to one of three shapes.

When you need a tool, emit:
{"thought": "<your reasoning for this step>", "action": "<the tool's exact name>", "args": {<arguments matching the tool's schema>}}

When you have finished a multi-step task and are ready to give your conclusion, emit:
{"thought": "<a brief closing rationale>", "answer": "<the complete final answer>"}

When the user's message needs no tool at all — small talk, a direct question you already know the answer to, acknowledgment — emit:
{"reply": "<your conversational response>"}

Tool catalog:
%s
Always reply with a single well-formed JSON object matching one of the three shapes above — never markdown, never commentary outside the object.`

// OneShot renders the one-shot system prompt for a model with the given
// parameter count and tool catalog text (tools.Registry.PromptDescription).
func OneShot(modelParams int64, toolCatalog string) string {
	if modelParams > 0 && modelParams > SmallModelThreshold {
		return fmt.Sprintf(largeOneShot, catalogOrNone(toolCatalog))
	}
	return fmt.Sprintf(smallOneShot, catalogOrNone(toolCatalog))
}

// Interactive renders the interactive system prompt.
func Interactive(modelParams int64, toolCatalog string) string {
	if modelParams > 0 && modelParams > SmallModelThreshold {
		return fmt.Sprintf(largeInteractive, catalogOrNone(toolCatalog))
	}
	return fmt.Sprintf(smallInteractive, catalogOrNone(toolCatalog))
}

func catalogOrNone(catalog string) string {
	if catalog == "" {
		return "(no tools registered)\n"
	}
	return catalog
}
