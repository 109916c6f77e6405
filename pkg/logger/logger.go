package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Options mirrors the observability.logging config block.
type Options struct {
	Env    string
	Level  string
	Format string
	Output io.Writer
}

// Init keeps the old behaviour: JSON at info in production, text at debug elsewhere.
func Init(env string) {
	if env == "production" {
		Setup(Options{Env: env, Level: "info", Format: "json"})
		return
	}
	Setup(Options{Env: env, Level: "debug", Format: "text"})
}

// Setup installs the process-wide logger and makes it slog's default.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(contextHandler{handler}).With("service", "adride-payments")
	if opts.Env != "" {
		l = l.With("env", opts.Env)
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LoggerWrapper() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		Init("development")
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l
}
