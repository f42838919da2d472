package observ

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(NewLogger("info"))
}

// NewLogger creates a JSON event logger on stdout at the given level
// ("debug", "info", "warn", "error"; anything else is info).
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	})
	return slog.New(h)
}

// SetLogger replaces the process event logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// Logger returns the process event logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// Log writes one info-level event line.
func Log(event string, kv map[string]any) {
	logAt(slog.LevelInfo, event, kv)
}

// Warn writes one warn-level event line.
func Warn(event string, kv map[string]any) {
	logAt(slog.LevelWarn, event, kv)
}

// Debug writes one debug-level event line.
func Debug(event string, kv map[string]any) {
	logAt(slog.LevelDebug, event, kv)
}

func logAt(level slog.Level, event string, kv map[string]any) {
	l := logger.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := kv[k]
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	l.LogAttrs(ctx, level, event, attrs...)
}

// MaskAPIKey keeps the first and last two characters of a key.
func MaskAPIKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:2] + strings.Repeat("*", len(key)-4) + key[len(key)-2:]
}
