// ABOUTME: Structured logger setup with a colorized terminal handler
// ABOUTME: Logs go to stderr so they do not interleave with chat output on stdout

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/roomsync/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = newTermHandler(color.Error, level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

var levelLabels = []struct {
	level slog.Level
	label string
	color *color.Color
}{
	{slog.LevelError, "ERR", color.New(color.FgRed, color.Bold)},
	{slog.LevelWarn, "WRN", color.New(color.FgYellow)},
	{slog.LevelInfo, "INF", color.New(color.FgCyan)},
	{slog.LevelDebug, "DBG", color.New(color.FgMagenta)},
}

func levelLabel(l slog.Level) string {
	for _, ll := range levelLabels {
		if l >= ll.level {
			return ll.color.Sprint(ll.label)
		}
	}
	return "???"
}

// termHandler writes one colorized line per record. The component attribute
// is pulled out and shown as a prefix.
type termHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Leveler
	component string
	prefix    string
	attrs     string
}

func newTermHandler(out io.Writer, level slog.Leveler) *termHandler {
	return &termHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelLabel(r.Level))
	b.WriteByte(' ')
	if h.component != "" {
		b.WriteString(color.BlueString("[" + h.component + "] "))
	}
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		if a.Key == "component" && h.prefix == "" {
			next.component = a.Value.String()
			continue
		}
		writeAttr(&b, h.prefix, a)
	}
	next.attrs = b.String()
	return &next
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	b.WriteString(a.Value.String())
}
