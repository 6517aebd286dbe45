// Package logutil provides the structured logging conventions shared by every
// other package: a leveled Trace below slog.LevelDebug for the hot paths
// (batching, cache bookkeeping) that are too noisy for normal debug logging.
package logutil

import (
	"context"
	"log/slog"
)

// LevelTrace sits one tier below slog.LevelDebug so it can be enabled
// independently via an slog.HandlerOptions Level func without drowning out
// regular debug output.
const LevelTrace = slog.LevelDebug - 4

// Trace logs at LevelTrace using the default logger. Call sites pass
// key/value pairs the same way they would to slog.Debug.
func Trace(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelTrace, msg, args...)
}
