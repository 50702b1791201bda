// Package handler bridges log/slog to the relational appender: a
// slog.Handler whose Handle turns each record into an event and persists it
// through the fixed three-table write path.
//
// Handler-level attrs (WithAttrs) become context-scope properties shared by
// every record logged through that handler; record attrs become event-scope
// properties and win key collisions. Attr keys are qualified by open groups
// with dots, so the persisted property keys stay flat. The first
// error-valued record attr is persisted as the exception trace instead of a
// property.
//
// Persistence failures never reach the logging call site: slog.Logger
// discards Handle's error, and the OnError callback is the diagnostic
// channel for them.
package handler

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/event"
)

// Options configures a Handler.
type Options struct {
	// LoggerName labels every row this handler writes (the logger_name
	// column). Defaults to "sqlog".
	LoggerName string

	// Level is the minimum record level that gets persisted.
	// Defaults to slog.LevelInfo.
	Level slog.Leveler

	// CaptureCaller resolves the record's program counter into the caller
	// columns. Off by default: it costs a frame lookup per record.
	CaptureCaller bool

	// OnError receives persistence failures.
	OnError func(error)
}

// Handler is a slog.Handler that persists records through an
// appender.Appender. It is immutable; WithAttrs and WithGroup return clones.
type Handler struct {
	app      *appender.Appender
	ex       appender.Execer
	opts     Options
	ctxProps map[string]string // group-qualified at WithAttrs time
	groups   []string
}

// New builds a Handler writing through app on ex.
func New(app *appender.Appender, ex appender.Execer, opts Options) *Handler {
	if opts.LoggerName == "" {
		opts.LoggerName = "sqlog"
	}
	return &Handler{
		app:      app,
		ex:       ex,
		opts:     opts,
		ctxProps: make(map[string]string),
	}
}

// Enabled reports whether records at the given level get persisted.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle converts the record into an event and appends it. The returned
// error reports the persistence failure to direct callers; slog.Logger call
// sites never see it.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	ev := &event.Event{
		Timestamp:         r.Time.UnixMilli(),
		Message:           r.Message,
		LoggerName:        h.opts.LoggerName,
		Level:             r.Level.String(),
		ThreadName:        "goroutine", // runtime does not expose names
		ContextProperties: h.ctxProps,
	}
	if r.Time.IsZero() {
		ev.Timestamp = time.Now().UnixMilli()
	}
	if h.opts.CaptureCaller && r.PC != 0 {
		ev.Caller = callerFrames(r.PC)
	}

	prefix := strings.Join(h.groups, ".")
	props := make(map[string]string, r.NumAttrs())
	var throwable []string
	r.Attrs(func(a slog.Attr) bool {
		collectAttr(props, prefix, a, &throwable)
		return true
	})
	ev.EventProperties = props
	ev.Throwable = throwable

	if _, err := h.app.Append(ctx, h.ex, ev); err != nil {
		if h.opts.OnError != nil {
			h.opts.OnError(err)
		}
		return err
	}
	return nil
}

// WithAttrs returns a handler whose context-scope properties include attrs,
// qualified by the groups open so far.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	prefix := strings.Join(h2.groups, ".")
	for _, a := range attrs {
		collectAttr(h2.ctxProps, prefix, a, nil)
	}
	return h2
}

// WithGroup returns a handler that qualifies subsequent attr keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *Handler) clone() *Handler {
	props := make(map[string]string, len(h.ctxProps))
	for k, v := range h.ctxProps {
		props[k] = v
	}
	groups := make([]string, len(h.groups))
	copy(groups, h.groups)
	return &Handler{
		app:      h.app,
		ex:       h.ex,
		opts:     h.opts,
		ctxProps: props,
		groups:   groups,
	}
}

// collectAttr records one attr into props, flattening groups with dotted
// keys. When throwable is non-nil and still empty, the first error-valued
// attr becomes the trace lines instead of a property; later error values
// render as ordinary properties.
func collectAttr(props map[string]string, prefix string, a slog.Attr, throwable *[]string) {
	if a.Equal(slog.Attr{}) {
		return
	}
	v := a.Value.Resolve()

	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	}

	if v.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = key
		}
		for _, ga := range v.Group() {
			collectAttr(props, groupPrefix, ga, throwable)
		}
		return
	}

	if throwable != nil && *throwable == nil {
		if err, ok := v.Any().(error); ok {
			*throwable = event.ThrowableFromError(err)
			return
		}
	}

	props[key] = v.String()
}

// callerFrames resolves the record's program counter into a single caller
// frame. The function name splits on its last dot into the class and method
// columns, keeping the package path with any receiver on the class side.
func callerFrames(pc uintptr) []event.CallerFrame {
	fs := runtime.CallersFrames([]uintptr{pc})
	f, _ := fs.Next()
	if f.File == "" {
		return nil
	}
	class, method := splitFunction(f.Function)
	return []event.CallerFrame{{
		File:   f.File,
		Class:  class,
		Method: method,
		Line:   f.Line,
	}}
}

func splitFunction(fn string) (class, method string) {
	if fn == "" {
		return "", ""
	}
	if i := strings.LastIndex(fn, "."); i >= 0 {
		return fn[:i], fn[i+1:]
	}
	return "", fn
}
