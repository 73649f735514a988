package memory

import (
	"context"

	"synapsed/internal/jsonscan"
	"synapsed/internal/tools"
)

const archivalSearchMax = 5

// RegisterTools registers the memory-backed tools (spec.md §4.4) into r.
// Each descriptor is marked with CapMemory, but RegisterTools itself checks
// no capability mask; callers decide whether to call it. Mirrors the teacher's cross-package tool
// registration pattern (internal/mcpclient bridging remote tools into the
// same registry; internal/agent/memory/remem.go exposing memory operations
// to the planner) but backs the executor state with this package's own
// Store handle instead of a remote session or a planner controller.
func RegisterTools(r *tools.Registry, store *Store) error {
	descriptors := []tools.Descriptor{
		{
			Name:                 "memory_store",
			Description:          "Upserts a key/value fact into archival memory.",
			ArgsSchema:           `{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"},"category":{"type":"string"}},"required":["key","value"]}`,
			Executor:             memoryStoreExecute,
			ExecutorState:        store,
			RequiredCapabilities: tools.CapMemory,
		},
		{
			Name:                 "memory_search",
			Description:          "Searches archival memory, returning up to 5 matches as a JSON array.",
			ArgsSchema:           `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
			Executor:             memorySearchExecute,
			ExecutorState:        store,
			RequiredCapabilities: tools.CapMemory,
		},
		{
			Name:                 "memory_core_update",
			Description:          "Overwrites a core memory block by label.",
			ArgsSchema:           `{"type":"object","properties":{"label":{"type":"string"},"content":{"type":"string"}},"required":["label","content"]}`,
			Executor:             memoryCoreUpdateExecute,
			ExecutorState:        store,
			RequiredCapabilities: tools.CapMemory,
		},
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func memoryStoreExecute(_ context.Context, state any, argsJSON string) tools.Result {
	store := state.(*Store)
	key, _ := jsonscan.FindString(argsJSON, "key")
	value, _ := jsonscan.FindString(argsJSON, "value")
	category, _ := jsonscan.FindString(argsJSON, "category")
	if key == "" || value == "" {
		return tools.Err("key and value are required")
	}
	if err := store.ArchivalStore(key, value, category, 0.5); err != nil {
		return tools.Err("memory_store failed: %v", err)
	}
	return tools.Ok("stored")
}

func memorySearchExecute(_ context.Context, state any, argsJSON string) tools.Result {
	store := state.(*Store)
	query, _ := jsonscan.FindString(argsJSON, "query")
	if query == "" {
		return tools.Err("query is required")
	}
	rows, err := store.ArchivalSearch(query, archivalSearchMax)
	if err != nil {
		return tools.Err("memory_search failed: %v", err)
	}
	out := "["
	for i, r := range rows {
		if i > 0 {
			out += ","
		}
		out += `{"key":"` + jsonscan.Escape(r.Key) + `","value":"` + jsonscan.Escape(r.Value) + `"}`
	}
	out += "]"
	return tools.Ok(out)
}

func memoryCoreUpdateExecute(_ context.Context, state any, argsJSON string) tools.Result {
	store := state.(*Store)
	label, _ := jsonscan.FindString(argsJSON, "label")
	content, _ := jsonscan.FindString(argsJSON, "content")
	if label == "" {
		return tools.Err("label is required")
	}
	if err := store.CoreSet(label, content); err != nil {
		return tools.Err("memory_core_update failed: %v", err)
	}
	return tools.Ok("updated")
}
