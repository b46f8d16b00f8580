// Package logging provides the bot's compact slog handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
	ansiPurple = "\033[35m"

	padding = "  " // left padding to align with TUI header
)

// Block attributes are rendered as indented blocks below the log line
// instead of inline key=value pairs. Prompts and responses are long and
// multi-line.
var blockKeys = map[string]bool{
	"prompt":   true,
	"response": true,
}

// sourceKey tags records that come from a library, such as discordgo.
const sourceKey = "source"

// Options configures a Handler.
type Options struct {
	// Level may be a *slog.LevelVar to change verbosity at runtime.
	Level slog.Leveler
	Color bool
}

// Handler is a compact, optionally colored slog handler.
type Handler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	prefix string
}

// NewHandler creates a new log handler.
func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		w:     w,
		mu:    &sync.Mutex{},
		level: level,
		color: opts.Color,
	}
}

// Install makes a Handler writing to w the default slog logger.
func Install(w io.Writer, level slog.Leveler, color bool) {
	slog.SetDefault(slog.New(NewHandler(w, &Options{Level: level, Color: color})))
}

// IsTerminal reports whether w is a terminal that can show colors.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	// Timestamp: short for terminal, full for file.
	var ts string
	if h.color {
		ts = r.Time.Format("15:04:05")
	} else {
		ts = r.Time.Format("2006-01-02 15:04:05")
	}

	var inline strings.Builder
	var blocks []string
	source := ""
	add := func(a slog.Attr) {
		switch {
		case a.Key == sourceKey:
			source = a.Value.String()
		case blockKeys[a.Key]:
			blocks = append(blocks, a.Value.String())
		default:
			inline.WriteString(h.fmtAttr(a))
		}
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		add(a)
		return true
	})

	lvl := levelLabel(r.Level)
	msg := r.Message
	if source != "" {
		if h.color {
			msg = fmt.Sprintf("%s[%s]%s %s", ansiPurple, source, ansiReset, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", source, msg)
		}
	}

	var sb strings.Builder
	if h.color {
		fmt.Fprintf(&sb, "%s%s%s%s %s %s%s\n",
			padding,
			ansiGray, ts, ansiReset,
			colorLevel(r.Level, lvl),
			msg, inline.String())
	} else {
		fmt.Fprintf(&sb, "%s%s %s %s%s\n", padding, ts, lvl, msg, inline.String())
	}

	for _, text := range blocks {
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			if h.color {
				fmt.Fprintf(&sb, "%s  %s│%s %s\n", padding, ansiGray, ansiReset, line)
			} else {
				fmt.Fprintf(&sb, "%s  | %s\n", padding, line)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		combined = append(combined, a)
	}
	c := *h
	c.attrs = combined
	return &c
}

// WithGroup qualifies later attribute keys as group.key.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func (h *Handler) fmtAttr(a slog.Attr) string {
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\n\"") {
		v = fmt.Sprintf("%q", v)
	}
	if h.color {
		return fmt.Sprintf(" %s%s%s=%s", ansiGray, a.Key, ansiReset, v)
	}
	return fmt.Sprintf(" %s=%s", a.Key, v)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func colorLevel(level slog.Level, label string) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level >= slog.LevelInfo:
		return ansiCyan + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}
