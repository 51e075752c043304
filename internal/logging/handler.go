// Package logging provides the colorized slog.Handler used by the engine
// and its command-line entrypoint, so a node's protocol trace reads the
// same way in a terminal as the rest of the ecosystem's tooling.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Options configures a PrettyHandler. NewPrettyHandler fills in defaults
// for a zero Level, TimeFormat and FieldSeparator and for a LevelWidth
// below 5; the zero value therefore yields an uncolored handler.
// DefaultOptions returns the colored defaults.
type Options struct {
	Level          slog.Leveler
	UseColor       bool
	ShowSource     bool
	FullSourcePath bool
	TimeFormat     string
	LevelWidth     int
	FieldSeparator string
}

func DefaultOptions() Options {
	return Options{
		Level:          slog.LevelInfo,
		UseColor:       true,
		ShowSource:     false,
		FullSourcePath: false,
		TimeFormat:     time.RFC3339,
		LevelWidth:     7,
		FieldSeparator: " | ",
	}
}

// PrettyHandler is a slog.Handler that writes a single human-readable line
// per record: timestamp, level, optional source, message, then any
// structured attributes rendered as compact JSON.
type PrettyHandler struct {
	opts   Options
	writer io.Writer
	mu     *sync.Mutex
	groups []string
	attrs  []slog.Attr

	colorTime    func(...any) string
	colorLevel   map[slog.Level]func(...any) string
	colorMessage func(...any) string
	colorSource  func(...any) string
	colorFields  func(...any) string
}

func NewPrettyHandler(w io.Writer, opts Options) *PrettyHandler {
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	if opts.LevelWidth < 5 {
		opts.LevelWidth = 7
	}
	if opts.FieldSeparator == "" {
		opts.FieldSeparator = " | "
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	h := &PrettyHandler{
		opts:   opts,
		writer: w,
		mu:     &sync.Mutex{},
	}
	h.initColorFuncs()

	return h
}

func (h *PrettyHandler) initColorFuncs() {
	if !h.opts.UseColor {
		noColor := func(a ...any) string { return fmt.Sprint(a...) }
		h.colorTime = noColor
		h.colorMessage = noColor
		h.colorSource = noColor
		h.colorFields = noColor
		h.colorLevel = map[slog.Level]func(...any) string{}
		return
	}

	h.colorTime = color.New(color.FgHiBlack).SprintFunc()
	h.colorMessage = color.New(color.FgCyan).SprintFunc()
	h.colorSource = color.New(color.FgHiBlack).SprintFunc()
	h.colorFields = color.New(color.FgWhite).SprintFunc()

	h.colorLevel = map[slog.Level]func(...any) string{
		slog.LevelDebug: color.New(color.FgMagenta).SprintFunc(),
		slog.LevelInfo:  color.New(color.FgBlue).SprintFunc(),
		slog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		slog.LevelError: color.New(color.FgRed, color.Bold).SprintFunc(),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	buf.WriteString(h.colorTime(r.Time.Format(h.opts.TimeFormat)))
	buf.WriteString(h.opts.FieldSeparator)
	buf.WriteString(h.formatLevel(r.Level))
	buf.WriteString(h.opts.FieldSeparator)

	if h.opts.ShowSource {
		if source := h.extractSource(r.PC); source != "" {
			buf.WriteString(h.colorSource(source))
			buf.WriteString(h.opts.FieldSeparator)
		}
	}

	buf.WriteString(h.colorMessage(r.Message))

	if attrs := h.collectAttributes(r); len(attrs) > 0 {
		buf.WriteString(h.opts.FieldSeparator)
		if err := h.formatAttributes(buf, attrs); err != nil {
			fmt.Fprintf(buf, "(error formatting attributes: %v)", err)
		}
	}

	buf.WriteByte('\n')
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	nh := &PrettyHandler{
		opts:   h.opts,
		writer: h.writer,
		mu:     &sync.Mutex{},
		groups: append([]string(nil), h.groups...),
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
	nh.initColorFuncs()

	return nh
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	nh := &PrettyHandler{
		opts:   h.opts,
		writer: h.writer,
		mu:     &sync.Mutex{},
		groups: append(append([]string(nil), h.groups...), name),
		attrs:  append([]slog.Attr(nil), h.attrs...),
	}
	nh.initColorFuncs()

	return nh
}

func (h *PrettyHandler) formatLevel(level slog.Level) string {
	s := fmt.Sprintf("%-*s", h.opts.LevelWidth, strings.ToUpper(level.String()))
	if colorFunc, ok := h.colorLevel[level]; ok {
		return colorFunc(s)
	}

	return s
}

func (h *PrettyHandler) extractSource(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return ""
	}

	file := frame.File
	if !h.opts.FullSourcePath {
		file = filepath.Base(file)
	}

	return fmt.Sprintf("%s:%d", file, frame.Line)
}

func (h *PrettyHandler) collectAttributes(r slog.Record) map[string]any {
	attrs := make(map[string]any)

	current := attrs
	for _, group := range h.groups {
		nested := make(map[string]any)
		current[group] = nested
		current = nested
	}

	for _, a := range h.attrs {
		h.addAttribute(current, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.addAttribute(current, a)
		return true
	})

	return attrs
}

func (h *PrettyHandler) addAttribute(attrs map[string]any, attr slog.Attr) {
	value := attr.Value.Resolve()

	if value.Kind() == slog.KindGroup {
		group := make(map[string]any)
		for _, ga := range value.Group() {
			h.addAttribute(group, ga)
		}
		if len(group) > 0 {
			attrs[attr.Key] = group
		}
		return
	}

	switch value.Kind() {
	case slog.KindTime:
		attrs[attr.Key] = value.Time().Format(h.opts.TimeFormat)
	case slog.KindDuration:
		attrs[attr.Key] = value.Duration().String()
	default:
		attrs[attr.Key] = value.Any()
	}
}

func (h *PrettyHandler) formatAttributes(buf *bytes.Buffer, attrs map[string]any) error {
	var jsonBuf bytes.Buffer
	enc := json.NewEncoder(&jsonBuf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(attrs); err != nil {
		return err
	}

	buf.WriteString(h.colorFields(string(bytes.TrimRight(jsonBuf.Bytes(), "\n"))))

	return nil
}

// New returns a ready-to-use *slog.Logger writing to w, colorized unless
// the destination isn't a terminal capable one (the caller decides that,
// e.g. via isatty, before setting Options.UseColor).
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewPrettyHandler(w, opts))
}
