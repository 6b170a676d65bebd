package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/logtags"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, text
	Output io.Writer
}

// Init installs the global logger and makes it the slog default.
func Init(cfg Config) {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := slog.New(handler)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// Get returns the global logger
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		// Default fallback if not initialized
		return slog.Default()
	}
	return l
}

func WithComponent(name string) *slog.Logger {
	return Get().With("component", name)
}

func WithTable(name string) *slog.Logger {
	return Get().With("table", name)
}

func WithTx(id int64) *slog.Logger {
	return Get().With("tx", id)
}

// FromContext returns the global logger carrying the log tags found on ctx
// as attributes.
func FromContext(ctx context.Context) *slog.Logger {
	l := Get()
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return l
	}
	args := make([]any, 0, 2*len(tags.Get()))
	for _, t := range tags.Get() {
		args = append(args, t.Key(), t.ValueStr())
	}
	return l.With(args...)
}

// WithTags returns ctx annotated with key=value, rendered by FromContext.
func WithTags(ctx context.Context, key string, value interface{}) context.Context {
	return logtags.AddTag(ctx, key, value)
}
