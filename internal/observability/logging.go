// Package observability carries the ambient logging concerns shared by
// every component: structured zerolog output and redaction of sensitive
// keys before a payload reaches a log sink.
package observability

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. Logs go to stderr, or to
// logPath (append mode) if it is non-empty, so a CLI's own stdout stream —
// e.g. the MCP stdio server's response frames — is never interleaved with
// log lines. On failure to open logPath, falls back to stderr and reports
// the failure there.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stderr
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			stdlog.SetOutput(os.Stderr)
			stdlog.Printf("observability: failed to open log file %q: %v", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
