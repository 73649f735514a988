// Package inference is the facade over the token-level inference backend.
// The backend itself — tokenization, batching, the sampler chain, the
// chat-template engine — is an external collaborator out of scope for this
// module (spec.md §1); this package only defines the contract the rest of
// the runtime consumes, serializes calls per model handle, and applies the
// context-capacity and clamping rules spec.md §4.1 spells out.
package inference

import (
	"context"
	"sync"
	"time"

	"synapsed/internal/synapseerr"
)

// Message is a single chat-template turn.
type Message struct {
	Role    string
	Content string
}

// Params configures one generation call.
type Params struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	RepeatLastN   int
	Grammar       string
	GrammarRoot   string
	Seed          int64
	// OnToken, if set, is invoked synchronously per detokenized token.
	// Returning false halts generation cleanly.
	OnToken func(token string) bool
}

// Result is the outcome of a single generation.
type Result struct {
	Text         string
	NTokens      int
	ElapsedMs    int64
	TokensPerSec float64
	Status       string // "OK", "CONTEXT_FULL", "GENERATE"
}

// Backend is the contract an external inference engine must satisfy. The
// sampler chain, when Params.Grammar is non-empty, must apply the grammar
// constraint before repeat-penalty/top-k/top-p/temperature so that
// continuations violating the grammar carry zero probability (spec.md §9).
type Backend interface {
	// ContextCapacity returns C_max, the model's context buffer capacity in
	// tokens.
	ContextCapacity() int
	// CountTokens returns the token count of text under this backend's
	// tokenizer.
	CountTokens(text string) int
	// Complete produces a completion for prompt constrained by params.
	Complete(ctx context.Context, prompt string, params Params) (text string, nTokens int, err error)
	// ApplyChatTemplate formats messages using the backend's chat template.
	// ok is false if the backend has no template for this model, in which
	// case callers fall back to a plain-text layout (spec.md §9).
	ApplyChatTemplate(messages []Message) (prompt string, ok bool)
}

// Engine owns the inference backend's process-wide initialization. Created
// once, destroyed last; Model handles it produces do not outlive it.
type Engine struct {
	Threads         int
	AcceleratorTier int // optional accelerator/GPU layer count
	Verbose         bool
}

// NewEngine constructs an Engine. Thread count and accelerator tier are
// hints passed through to whatever Backend a caller later attaches via
// Load; this package performs no process-wide setup itself since the
// concrete backend is out of scope.
func NewEngine(threads, acceleratorTier int, verbose bool) *Engine {
	return &Engine{Threads: threads, AcceleratorTier: acceleratorTier, Verbose: verbose}
}

// Handle wraps one loaded model. At most one generation may be in flight
// per Handle; concurrent callers serialize on mu.
type Handle struct {
	mu           sync.Mutex
	backend      Backend
	chatTemplate string
}

// Load attaches a Backend (already holding loaded weights) to this Engine
// and returns a Handle. chatTemplateID identifies the chat template the
// backend should use when formatting messages; it is advisory metadata the
// backend itself owns.
func (e *Engine) Load(backend Backend, chatTemplateID string) *Handle {
	return &Handle{backend: backend, chatTemplate: chatTemplateID}
}

// ChatTemplate returns the chat-template identifier this handle was loaded
// with.
func (h *Handle) ChatTemplate() string { return h.chatTemplate }

// ContextCapacity returns C_max for the loaded model.
func (h *Handle) ContextCapacity() int { return h.backend.ContextCapacity() }

// CountTokens tokenizes text under this handle's backend.
func (h *Handle) CountTokens(text string) int { return h.backend.CountTokens(text) }

// FormatMessages applies the backend's chat template, or reports ok=false
// if none is available.
func (h *Handle) FormatMessages(messages []Message) (string, bool) {
	return h.backend.ApplyChatTemplate(messages)
}

// Generate produces a completion. If the prompt alone exceeds context
// capacity, it fails with CONTEXT_FULL; if it fits but
// prompt_tokens+MaxTokens > C_max, MaxTokens is silently clamped.
func (h *Handle) Generate(ctx context.Context, params Params) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cmax := h.backend.ContextCapacity()
	promptTokens := h.backend.CountTokens(params.Prompt)
	if cmax > 0 && promptTokens >= cmax {
		return Result{Status: "CONTEXT_FULL"}, synapseerr.New(synapseerr.ContextFull, "prompt exceeds context capacity")
	}

	effective := params
	if cmax > 0 && promptTokens+effective.MaxTokens > cmax {
		effective.MaxTokens = cmax - promptTokens
	}
	if effective.MaxTokens <= 0 {
		effective.MaxTokens = 1
	}

	start := time.Now()
	text, n, err := h.backend.Complete(ctx, effective.Prompt, effective)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Status: "GENERATE"}, synapseerr.Wrap(synapseerr.Generate, "backend generation failed", err)
	}

	tps := 0.0
	if ms := elapsed.Milliseconds(); ms > 0 {
		tps = float64(n) / (float64(ms) / 1000.0)
	}
	return Result{
		Text:         text,
		NTokens:      n,
		ElapsedMs:    elapsed.Milliseconds(),
		TokensPerSec: tps,
		Status:       "OK",
	}, nil
}
