// Package tools implements the capability-gated Tool Registry (spec.md
// §4.4): a bounded, insertion-ordered collection of named executable tools
// with JSON-schema metadata, dispatched by name. Grounded on the teacher's
// internal/tools/registry.go and internal/tools/types.go dispatch-by-name
// shape, generalized from the teacher's native-provider ToolSchema
// registration into spec.md's capability-bitset-gated descriptor model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"synapsed/internal/observability"
	"synapsed/internal/synapseerr"
)

// Capability is one bit of the gating bitset spec.md §3 defines.
type Capability uint8

const (
	CapFilesystem Capability = 1 << iota
	CapNetwork
	CapShell
	CapMemory
	CapSensor
	CapGPIO
)

// MaxTools is the implementation limit on registry size (spec.md §3: "≥ 64").
const MaxTools = 128

// Result is the outcome of one tool execution. Exactly one of Output/Error
// is set when Success is true/false respectively.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok constructs a successful Result.
func Ok(output string) Result { return Result{Success: true, Output: output} }

// Err constructs a failed Result.
func Err(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Executor is the callable behind a tool descriptor. state is the
// descriptor's ExecutorState, passed through unmodified so a single
// executor function can serve many descriptors with different state (e.g.
// one memory-store handle backing three memory tools).
type Executor func(ctx context.Context, state any, argsJSON string) Result

// Descriptor is an immutable tool record (spec.md §3).
type Descriptor struct {
	Name                string
	Description         string
	ArgsSchema          string // JSON Schema text
	Executor            Executor
	ExecutorState       any
	RequiredCapabilities Capability
}

// Registry is a bounded, insertion-ordered, name-keyed collection of tool
// descriptors.
type Registry struct {
	order []string
	byName map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds d to the registry. Fails if the name is already taken or
// the registry is at MaxTools capacity.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return synapseerr.New(synapseerr.InvalidParam, "tool name must not be empty")
	}
	if _, exists := r.byName[d.Name]; exists {
		return synapseerr.New(synapseerr.InvalidParam, fmt.Sprintf("duplicate tool name %q", d.Name))
	}
	if len(r.order) >= MaxTools {
		return synapseerr.New(synapseerr.InvalidParam, "tool registry is full")
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return len(r.order) }

// Name returns the name of the tool at insertion index i.
func (r *Registry) Name(i int) (string, bool) {
	if i < 0 || i >= len(r.order) {
		return "", false
	}
	return r.order[i], true
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Description returns the human description of the tool at index i.
func (r *Registry) Description(i int) (string, bool) {
	name, ok := r.Name(i)
	if !ok {
		return "", false
	}
	return r.byName[name].Description, true
}

// Schema returns the JSON Schema text of the tool at index i.
func (r *Registry) Schema(i int) (string, bool) {
	name, ok := r.Name(i)
	if !ok {
		return "", false
	}
	return r.byName[name].ArgsSchema, true
}

// Execute dispatches argsJSON to the named tool's executor. An empty
// argsJSON is treated as "{}". Each call is tagged with a fresh correlation
// ID for log correlation, mirroring the teacher's per-tool-call ID
// convention (internal/agent/tools.go UUID-tagged tool calls).
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) Result {
	callID := uuid.NewString()
	d, ok := r.byName[name]
	if !ok {
		log.Warn().Str("call_id", callID).Str("tool", name).Msg("tool_not_found")
		return Err("tool %q not found", name)
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	log.Debug().Str("call_id", callID).Str("tool", name).
		RawJSON("args", observability.RedactJSON(json.RawMessage(argsJSON))).
		Msg("tool_call_started")
	result := d.Executor(ctx, d.ExecutorState, argsJSON)
	log.Debug().Str("call_id", callID).Str("tool", name).Bool("success", result.Success).Msg("tool_call_finished")
	return result
}

// GrammarNames renders a GBNF fragment constraining a production to one of
// the registered tool names, as quoted string alternatives, for splicing
// into grammar.OneShot/Interactive via grammar.WithToolNames (spec.md §4.4).
func (r *Registry) GrammarNames() string {
	if len(r.order) == 0 {
		return ""
	}
	alts := make([]string, len(r.order))
	for i, name := range r.order {
		b, _ := json.Marshal(name)
		alts[i] = fmt.Sprintf("%q", string(b))
	}
	return "tool-name ::= " + strings.Join(alts, " | ")
}

// PromptDescription renders a human-readable tool catalog for splicing into
// an agent system prompt: one line per tool, name, description, and schema.
func (r *Registry) PromptDescription() string {
	var b strings.Builder
	for _, name := range r.order {
		d := r.byName[name]
		fmt.Fprintf(&b, "- %s: %s\n  args schema: %s\n", d.Name, d.Description, d.ArgsSchema)
	}
	return b.String()
}

// HasCapabilities reports whether required is a subset of granted.
func HasCapabilities(required, granted Capability) bool {
	return required&granted == required
}
