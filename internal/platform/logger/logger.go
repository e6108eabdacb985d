// Package logger builds the process-wide structured logger.
package logger

import (
	"os"
	"strings"

	"log/slog"
)

// New returns a JSON slog logger at the given level. Unknown levels fall
// back to info.
func New(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}
