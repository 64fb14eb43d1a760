// Package logger hands out per-component slog loggers. Levels are resolved
// hierarchically: "provider.conn" falls back to "provider", then to the
// default level.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const timeFormat = "2006/01/02 15:04:05.000"

var (
	format          = "text"
	output          = io.Writer(os.Stdout)
	defaultLevel    = slog.LevelInfo
	componentLevels = map[string]slog.Level{}
	pid             = os.Getpid()

	mu          sync.RWMutex
	loggerCache sync.Map

	// writeMu serializes text records so lines from different components
	// never interleave.
	writeMu sync.Mutex
)

// Configure replaces the format and levels. Loggers obtained earlier keep
// their handler; call it before building components.
func Configure(logFormat string, level LogLevel, components map[string]LogLevel) {
	mu.Lock()
	format = strings.ToLower(logFormat)
	defaultLevel = parseLevel(string(level))
	componentLevels = make(map[string]slog.Level, len(components))
	for name, lvl := range components {
		componentLevels[name] = parseLevel(string(lvl))
	}
	mu.Unlock()

	loggerCache.Range(func(key, _ any) bool {
		loggerCache.Delete(key)
		return true
	})
}

// SetOutput redirects loggers obtained afterwards to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()

	loggerCache.Range(func(key, _ any) bool {
		loggerCache.Delete(key)
		return true
	})
}

func Get(name string) *slog.Logger {
	if l, ok := loggerCache.Load(name); ok {
		return l.(*slog.Logger)
	}

	mu.RLock()
	w, f := output, format
	mu.RUnlock()

	var handler slog.Handler
	if f == "json" {
		handler = newJSONHandler(w, name)
	} else {
		handler = &textHandler{w: w, component: name}
	}

	l, _ := loggerCache.LoadOrStore(name, slog.New(handler))
	return l.(*slog.Logger)
}

// WithSession tags every record with the dataplane session it belongs to.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	if sessionID == "" {
		return logger
	}
	return logger.With("session_id", sessionID)
}

func SetComponentLevel(name string, level LogLevel) {
	mu.Lock()
	componentLevels[name] = parseLevel(string(level))
	mu.Unlock()
}

func ClearComponentLevel(name string) {
	mu.Lock()
	delete(componentLevels, name)
	mu.Unlock()
}

func GetComponentLevels() map[string]LogLevel {
	mu.RLock()
	defer mu.RUnlock()

	result := make(map[string]LogLevel, len(componentLevels))
	for name, level := range componentLevels {
		result[name] = toLogLevel(level)
	}
	return result
}

func GetDefaultLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return toLogLevel(defaultLevel)
}

func effectiveLevel(component string) slog.Level {
	mu.RLock()
	defer mu.RUnlock()

	for path := component; path != ""; {
		if level, ok := componentLevels[path]; ok {
			return level
		}
		idx := strings.LastIndexByte(path, '.')
		if idx < 0 {
			break
		}
		path = path[:idx]
	}
	return defaultLevel
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func toLogLevel(level slog.Level) LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return LogLevelDebug
	case level >= slog.LevelError:
		return LogLevelError
	case level >= slog.LevelWarn:
		return LogLevelWarn
	default:
		return LogLevelInfo
	}
}

func subComponent(component, name string) string {
	if component == "" {
		return name
	}
	return component + "." + name
}

// textHandler writes "time [pid] LEVEL [component] msg k=v ..." lines.
// Attributes keep the order they were added in.
type textHandler struct {
	w         io.Writer
	component string
	attrs     []byte
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= effectiveLevel(h.component)
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.AppendFormat(buf, timeFormat)
	buf = fmt.Appendf(buf, " [%d] %s", pid, r.Level)
	if h.component != "" {
		buf = fmt.Appendf(buf, " [%s]", h.component)
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	buf = append(buf, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, "", a)
		return true
	})
	buf = append(buf, '\n')

	writeMu.Lock()
	defer writeMu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]byte(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = appendAttr(c.attrs, "", a)
	}
	return &c
}

// WithGroup narrows the component, so the group also selects a level.
func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.component = subComponent(h.component, name)
	return &c
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	v := a.Value.Resolve()
	key := prefix + a.Key

	if v.Kind() == slog.KindGroup {
		if a.Key != "" {
			key += "."
		}
		for _, ga := range v.Group() {
			buf = appendAttr(buf, key, ga)
		}
		return buf
	}

	s := v.String()
	if s == "" || strings.ContainsAny(s, " =\"\n") {
		s = strconv.Quote(s)
	}
	return fmt.Appendf(buf, " %s=%s", key, s)
}

// jsonHandler adds a "component" field to slog's JSON output and filters by
// the component's level.
type jsonHandler struct {
	inner     slog.Handler
	component string
}

func newJSONHandler(w io.Writer, component string) *jsonHandler {
	return &jsonHandler{
		inner:     slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		component: component,
	}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= effectiveLevel(h.component)
}

func (h *jsonHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.component != "" {
		r = r.Clone()
		r.AddAttrs(slog.String("component", h.component))
	}
	return h.inner.Handle(ctx, r)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jsonHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &jsonHandler{inner: h.inner, component: subComponent(h.component, name)}
}
