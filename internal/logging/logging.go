// Package logging configures the process-wide slog logger and hands out
// component-tagged children. Packages grab their logger at init time via
// L(), before configuration is loaded, so the sink behind those loggers is
// swapped in place when Init runs.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Field keys shared across components so the run log greps consistently.
const (
	KeyComponent  = "component"
	KeyResource   = "resource"
	KeyStrategy   = "strategy"
	KeyBundle     = "bundle"
	KeyAttempt    = "attempt"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

// sink holds the configured handler. Pre-init it points at a plain text
// handler on stderr so early warnings are not lost.
var sink atomic.Pointer[slog.Handler]

var root *slog.Logger

func init() {
	var h slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	sink.Store(&h)
	root = slog.New(&lazyHandler{})
	slog.SetDefault(root)
}

// Init points every logger, including those created before this call, at
// the configured sink. format is "text" or "json"; level one of debug,
// info, warn, error; a nil output falls back to stderr.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	sink.Store(&h)
}

// L returns a logger tagged with the component name.
func L(component string) *slog.Logger {
	return root.With(slog.String(KeyComponent, component))
}

// WithResource returns a child logger carrying the resource path, so every
// line emitted while working on one file names it.
func WithResource(logger *slog.Logger, path string) *slog.Logger {
	return logger.With(slog.String(KeyResource, path))
}

// handlerOp replays one WithAttrs or WithGroup derivation onto the current
// sink handler.
type handlerOp func(slog.Handler) slog.Handler

// lazyHandler defers handler derivation to each log call. slog.Logger.With
// derives and caches a handler eagerly, which would pin whatever sink was
// installed at derivation time; recording the derivations and replaying
// them per record keeps pre-init loggers pointed at the live sink.
type lazyHandler struct {
	ops []handlerOp
}

func (h *lazyHandler) resolved() slog.Handler {
	cur := *sink.Load()
	for _, op := range h.ops {
		cur = op(cur)
	}
	return cur
}

func (h *lazyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolved().Enabled(ctx, level)
}

func (h *lazyHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolved().Handle(ctx, record)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithAttrs(attrs) })
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithGroup(name) })
}

func (h *lazyHandler) derive(op handlerOp) slog.Handler {
	ops := make([]handlerOp, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &lazyHandler{ops: append(ops, op)}
}

func parseLevel(level string) slog.Level {
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
