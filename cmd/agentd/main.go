// Command agentd runs a single agent_run invocation end to end: it loads
// config, attaches the tool registry, the memory store, any configured MCP
// servers, and the external inference backend process, then prints the
// run's result as JSON. No HTTP surface and no REPL ship here (spec.md §1
// non-goals) — this binary is the minimal host a caller scripts around.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"synapsed/internal/agent"
	"synapsed/internal/config"
	"synapsed/internal/inference"
	"synapsed/internal/mcp"
	"synapsed/internal/memory"
	"synapsed/internal/observability"
	"synapsed/internal/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the runtime config file")
	mcpConfigPath := flag.String("mcp-config", "", "optional {\"mcpServers\":...} file (spec.md §6)")
	task := flag.String("task", "", "the user input to run through the agent loop")
	modelParams := flag.Int64("model-params", 1_000_000_000, "loaded model's parameter count, for the small/large prompt split")
	flag.Parse()

	if strings.TrimSpace(*task) == "" {
		fmt.Fprintln(os.Stderr, "agentd: -task is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	granted := capabilityMask(cfg)
	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, granted); err != nil {
		log.Fatal().Err(err).Msg("agentd_register_defaults_failed")
	}

	var store *memory.Store
	if cfg.Caps.Memory {
		store, err = memory.Open(cfg.Memory.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("agentd_memory_open_failed")
		}
		defer store.Close()
		if err := memory.RegisterTools(registry, store); err != nil {
			log.Fatal().Err(err).Msg("agentd_register_memory_tools_failed")
		}
	}

	client := mcp.NewClient()
	for _, s := range cfg.Servers {
		if err := client.AddServer(mcp.ServerConfig{Name: s.Name, Command: s.Command, Args: s.Args, Env: s.Env}); err != nil {
			log.Fatal().Err(err).Msg("agentd_mcp_add_server_failed")
		}
	}
	if *mcpConfigPath != "" {
		if err := client.LoadConfig(*mcpConfigPath); err != nil {
			log.Fatal().Err(err).Msg("agentd_mcp_load_config_failed")
		}
	}
	if client.ServerCount() > 0 {
		if err := client.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("agentd_mcp_connect_failed")
		}
		defer client.Close()
		if err := client.RegisterTools(registry); err != nil {
			log.Fatal().Err(err).Msg("agentd_mcp_register_tools_failed")
		}
		log.Info().Int("server_count", client.ServerCount()).Int("tool_count", client.ToolCount()).Msg("agentd_mcp_connected")
	}

	if strings.TrimSpace(cfg.Backend.Command) == "" {
		fmt.Fprintln(os.Stderr, "agentd: config backend.command must name the external inference process to spawn")
		os.Exit(2)
	}
	backend, err := inference.StartSubprocessBackend(cfg.Backend.Command, cfg.Backend.Args, cfg.Backend.ContextWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("agentd_backend_start_failed")
	}
	defer backend.Close()

	engine := inference.NewEngine(cfg.Engine.Threads, cfg.Engine.AcceleratorTier, cfg.Engine.Verbose)
	handle := engine.Load(backend, "default")

	a := agent.New(handle, registry, store, *modelParams, agent.Params{
		MaxSteps:         cfg.Agent.MaxSteps,
		MaxTokensPerStep: cfg.Agent.MaxTokensPerStep,
		Temperature:      cfg.Agent.Temperature,
		ContextBudget:    cfg.Agent.ContextBudget,
		Verbose:          cfg.Agent.Verbose,
	})

	result := a.Run(context.Background(), *task, func(ev agent.StepEvent) {
		log.Debug().Int("step", ev.StepIndex).Str("action", ev.Action).Msg("agentd_step")
	})

	out, err := json.Marshal(result)
	if err != nil {
		log.Fatal().Err(err).Msg("agentd_marshal_result_failed")
	}
	fmt.Println(string(out))

	if result.Status != agent.StatusOK {
		os.Exit(1)
	}
}

func capabilityMask(cfg config.Config) tools.Capability {
	bits := []tools.Capability{
		tools.CapFilesystem, tools.CapNetwork, tools.CapShell,
		tools.CapMemory, tools.CapSensor, tools.CapGPIO,
	}
	granted := tools.Capability(0)
	for i, on := range cfg.Caps.Flags() {
		if on {
			granted |= bits[i]
		}
	}
	return granted
}
