// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — cold-path diagnostics for the acquisition daemon
//
// Purpose:
//   - Logs infrequent events: startup phases, session open/close, telemetry.
//   - Structured output through log/slog so every line carries a tag.
//
// Notes:
//   - prefix becomes the log message, the payload becomes an attribute.
//   - SetLogger swaps the sink (tests capture into a buffer).
//
// ⚠️ Never invoke from the sampling loop: the producer only bumps counters.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// SetLogger replaces the process logger. A nil logger is ignored.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// Logger returns the current process logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// DropError logs a tagged error at warning level.
// With a nil err only the tag is logged, which is used as a cheap trace.
func DropError(prefix string, err error) {
	if err != nil {
		logger.Load().Warn(prefix, "err", err)
		return
	}
	logger.Load().Warn(prefix)
}

// DropMessage logs a tagged informational message.
func DropMessage(prefix, message string) {
	logger.Load().Info(prefix, "msg", message)
}

// DropAttrs logs a tagged informational record with structured attributes.
func DropAttrs(prefix string, args ...any) {
	logger.Load().Info(prefix, args...)
}
