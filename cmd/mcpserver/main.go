// Command mcpserver exposes a local tools.Registry over stdio MCP
// (spec.md §4.6, "inbound half"), the same dispatch-by-name shape as the
// teacher's cmd/mcpserver/mcpserver.go but speaking the runtime's own
// JSON-RPC codec instead of mcp-golang.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"synapsed/internal/config"
	"synapsed/internal/mcp"
	"synapsed/internal/memory"
	"synapsed/internal/observability"
	"synapsed/internal/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the runtime config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	mask := cfg.Caps
	granted := tools.Capability(0)
	for i, flagSet := range mask.Flags() {
		if !flagSet {
			continue
		}
		granted |= []tools.Capability{
			tools.CapFilesystem, tools.CapNetwork, tools.CapShell,
			tools.CapMemory, tools.CapSensor, tools.CapGPIO,
		}[i]
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, granted); err != nil {
		log.Fatal().Err(err).Msg("mcpserver_register_defaults_failed")
	}

	if mask.Memory {
		store, err := memory.Open(cfg.Memory.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("mcpserver_memory_open_failed")
		}
		defer store.Close()
		if err := memory.RegisterTools(registry, store); err != nil {
			log.Fatal().Err(err).Msg("mcpserver_register_memory_tools_failed")
		}
	}

	log.Info().Int("tool_count", registry.Count()).Msg("mcpserver_starting")

	server := mcp.NewServer(registry)
	if err := server.ServeStdio(context.Background(), os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("mcpserver_serve_failed")
	}
}
