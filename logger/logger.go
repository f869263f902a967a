package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Err is the conventional attribute for attaching an error to a record.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

type Options struct {
	Level      slog.Level
	TimeFormat string
}

var DefaultOptions = Options{
	Level:      slog.LevelInfo,
	TimeFormat: "2006-01-02 15:04:05.000",
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgCyan),
	slog.LevelInfo:  color.New(color.FgGreen),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

// Handler renders records as single colored lines for terminals. It is
// a deliberately small alternative to slog.TextHandler; attributes are
// rendered key=value after the message.
type Handler struct {
	opts  Options
	attrs []slog.Attr
	mu    *sync.Mutex
	out   io.Writer
}

func NewHandler(out io.Writer, opts Options) *Handler {
	if opts.TimeFormat == "" {
		opts.TimeFormat = DefaultOptions.TimeFormat
	}
	return &Handler{opts: opts, mu: &sync.Mutex{}, out: out}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format(h.opts.TimeFormat))
	sb.WriteByte(' ')

	lvl := r.Level.String()
	if c, ok := levelColors[r.Level]; ok {
		lvl = c.Sprint(lvl)
	}
	sb.WriteString(lvl)
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	appendAttr := func(a slog.Attr) {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprintf("%v", a.Value.Any()))
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

func (h *Handler) WithGroup(string) slog.Handler { return h }

var _ slog.Handler = (*Handler)(nil)

// Setup installs the colored handler as the process default logger.
func Setup(out io.Writer, level slog.Level) {
	opts := DefaultOptions
	opts.Level = level
	slog.SetDefault(slog.New(NewHandler(out, opts)))
}
