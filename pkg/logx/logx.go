// Package logx provides leveled, component-tagged logging with domain-filtered debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// TimestampFormat is the layout used for every log line and buffered entry.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

type ctxKey string

// ComponentKey is the context key Debug reads the component id from.
const ComponentKey ctxKey = "component"

// WithComponent returns a context tagged with a component id for domain debug logging.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ComponentKey, component)
}

// Logger writes lines tagged with a component id.
type Logger struct {
	component string
}

// LogEntry is one buffered log line, served to observers.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

type ringBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
}

func (b *ringBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) snapshot(domain string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		e := b.entries[i]
		if domain != "" && !strings.EqualFold(e.Domain, domain) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(TimestampFormat, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

var (
	debugMu      sync.RWMutex
	debugEnabled bool
	debugDomains map[string]bool // nil means every domain

	// logWriter overrides stderr when non-nil.
	logWriter     io.Writer
	logWriterLock sync.Mutex

	buffer = &ringBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env-driven debug switches
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	v := os.Getenv("DEBUG")
	debugEnabled = v == "1" || strings.EqualFold(v, "true")
	debugDomains = nil
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// NewLogger creates a logger for the given component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput redirects all log lines. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	logWriter = w
	logWriterLock.Unlock()
}

// SetDebug toggles debug output globally.
func SetDebug(enabled bool) {
	debugMu.Lock()
	debugEnabled = enabled
	debugMu.Unlock()
}

// SetDebugDomains restricts debug output to the named domains. Empty enables all.
func SetDebugDomains(domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if len(domains) == 0 {
		debugDomains = nil
		return
	}
	debugDomains = make(map[string]bool, len(domains))
	for _, d := range domains {
		debugDomains[strings.TrimSpace(d)] = true
	}
}

// IsDebugEnabledForDomain reports whether Debug output for domain is emitted.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debugEnabled {
		return false
	}
	return debugDomains == nil || debugDomains[domain]
}

// RecentEntries returns buffered entries, optionally filtered by domain and time.
func RecentEntries(domain string, since time.Time) []LogEntry {
	return buffer.snapshot(domain, since)
}

func emit(component string, level Level, domain, message string) {
	ts := time.Now().UTC().Format(TimestampFormat)
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", ts, component, level, message)

	logWriterLock.Lock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line)
	logWriterLock.Unlock()

	buffer.add(LogEntry{Timestamp: ts, Component: component, Level: string(level), Message: message, Domain: domain})
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(l.component, level, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	debugMu.RLock()
	enabled := debugEnabled
	debugMu.RUnlock()
	if !enabled {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Debug logs a domain-scoped debug message.
//
//	DEBUG=1                              # all domains
//	DEBUG=1 DEBUG_DOMAINS=router,bridge  # selected domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if v, ok := ctx.Value(ComponentKey).(string); ok && v != "" {
			component = v
		}
	}
	msg := fmt.Sprintf(format, args...)
	emit(component, LevelDebug, domain, fmt.Sprintf("[%s] %s", domain, msg))
}

var defaultLogger = NewLogger("system")

// Wrap logs msg + ": " + err and returns the wrapped error. A nil err stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
