package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// createLogger builds the process logger. Logs always go to stderr; stdout
// belongs to the workload.
func createLogger(level, format string) *slog.Logger {
	return newLogger(os.Stderr, level, format, term.IsTerminal(int(os.Stderr.Fd())))
}

func newLogger(w io.Writer, level, format string, tty bool) *slog.Logger {
	logLevel := parseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	case "tint":
		handler = tint.NewHandler(w, &tint.Options{Level: logLevel, TimeFormat: time.TimeOnly, NoColor: !tty})
	default:
		if tty {
			handler = tint.NewHandler(w, &tint.Options{Level: logLevel, TimeFormat: time.TimeOnly})
		} else {
			handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
		}
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
