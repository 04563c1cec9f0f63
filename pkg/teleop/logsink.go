package teleop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogSink turns log records into display lines for the terminal UI. Lines are
// dropped when the reader falls behind; logging never blocks the control loop.
type LogSink struct {
	lines chan string
}

// NewLogSink creates a sink buffering up to size lines.
func NewLogSink(size int) *LogSink {
	return &LogSink{lines: make(chan string, size)}
}

// Lines returns a channel that receives log messages.
func (s *LogSink) Lines() <-chan string {
	return s.lines
}

// Handler returns a slog handler writing to the sink at or above level.
func (s *LogSink) Handler(level slog.Leveler) slog.Handler {
	return &sinkHandler{sink: s, level: level}
}

func (s *LogSink) push(line string) {
	select {
	case s.lines <- line:
	default:
	}
}

type sinkHandler struct {
	sink   *LogSink
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func (h *sinkHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", r.Time.Format("15:04:05"))
	if r.Level >= slog.LevelWarn {
		b.WriteString(r.Level.String())
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)

	write := func(a slog.Attr) {
		// The session id is constant for the process; it only clutters the view.
		if a.Key == "session" {
			return
		}
		fmt.Fprintf(&b, " %s%s=%v", h.prefix, a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	h.sink.push(b.String())
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
