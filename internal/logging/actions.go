// Package logging adapts log/slog to the GitHub Actions runner log.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ActionsHandler writes records as workflow commands: errors and warnings
// become ::error:: and ::warning:: annotations, debug records ::debug:: lines
// (shown only when step debug logging is on), and info records plain lines.
type ActionsHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// Compile-time interface satisfaction check.
var _ slog.Handler = (*ActionsHandler)(nil)

// NewActionsHandler creates a handler writing to w. A nil level means info.
func NewActionsHandler(w io.Writer, level slog.Leveler) *ActionsHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ActionsHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// NewLogger returns a logger for the current process: annotations when
// running inside Actions, text output otherwise.
func NewLogger(w io.Writer, inActions, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	if inActions {
		// The runner filters ::debug:: itself, so everything is emitted.
		return slog.New(NewActionsHandler(w, slog.LevelDebug))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (h *ActionsHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ActionsHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})

	var line string
	switch {
	case r.Level >= slog.LevelError:
		line = "::error::" + escapeData(b.String())
	case r.Level >= slog.LevelWarn:
		line = "::warning::" + escapeData(b.String())
	case r.Level < slog.LevelInfo:
		line = "::debug::" + escapeData(b.String())
	default:
		line = b.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *ActionsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *ActionsHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, group, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

// escapeData encodes the characters the runner treats as command syntax.
func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}
