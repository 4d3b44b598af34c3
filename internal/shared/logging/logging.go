package logging

import (
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// New builds the application logger: records at level on out, as JSON when
// structured is set and as human readable text otherwise, plus JSON on
// errOut for errors only.
func New(out, errOut io.Writer, level string, structured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var outHandler slog.Handler = slog.NewTextHandler(out, opts)
	if structured {
		outHandler = slog.NewJSONHandler(out, opts)
	}
	errHandler := slog.NewJSONHandler(errOut, &slog.HandlerOptions{
		Level: slog.LevelError,
	})

	return slog.New(slogmulti.Fanout(outHandler, errHandler))
}

// ParseLevel maps a level name such as "debug" or "WARN" to a slog level,
// defaulting to info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}
