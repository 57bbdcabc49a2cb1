// Package obslog provides structured, leveled console logging for ipxcore
// services, in the same streaming-subscriber shape as the logger this
// module was patterned after, but built on fatih/color instead of raw
// ANSI escapes.
package obslog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	serviceNameWidth = 20
	logLevelWidth    = 7
)

// Entry is a single emitted log record, also delivered to any subscriber
// channels registered via Subscribe.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Logger is a per-component structured logger. The zero value is not
// usable; construct with New.
type Logger struct {
	component string

	mu             sync.RWMutex
	subscribers    []chan Entry
	disableConsole bool
}

// New creates a Logger tagged with component (e.g. "providerpool",
// "dispatcher").
func New(component string) *Logger {
	return &Logger{component: component}
}

// Subscribe returns a channel that receives every entry logged from this
// point on. The channel is buffered; entries are dropped rather than
// blocking the logger if the subscriber falls behind.
func (l *Logger) Subscribe() <-chan Entry {
	ch := make(chan Entry, 100)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

// DisableConsoleOutput suppresses the console writer while still feeding
// subscribers, e.g. when a supervisor process streams logs itself.
func (l *Logger) DisableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = true
	l.mu.Unlock()
}

func colorFor(level string) *color.Color {
	switch level {
	case "DEBUG":
		return color.New(color.FgHiBlack)
	case "INFO":
		return color.New(color.FgGreen)
	case "WARN":
		return color.New(color.FgHiYellow)
	case "ERROR", "FATAL":
		return color.New(color.FgHiRed)
	default:
		return color.New()
	}
}

func pad(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

func (l *Logger) emit(level, message string, fields map[string]string) {
	entry := Entry{Time: time.Now(), Level: level, Message: message, Fields: fields}

	l.mu.RLock()
	quiet := l.disableConsole
	subs := l.subscribers
	l.mu.RUnlock()

	if !quiet {
		ts := entry.Time.Format("2006-01-02 15:04:05.000")
		levelColored := colorFor(level).Sprint(pad(level, logLevelWidth))
		line := fmt.Sprintf("[%s] [%s] [%s] %s", ts, pad(l.component, serviceNameWidth), levelColored, message)
		if len(fields) > 0 {
			line += " " + formatFields(fields)
		}
		fmt.Fprintln(os.Stderr, line)
	}

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func formatFields(fields map[string]string) string {
	out := ""
	for k, v := range fields {
		if out != "" {
			out += " "
		}
		out += k + "=" + v
	}
	return out
}

func (l *Logger) Debug(format string, args ...any) { l.emit("DEBUG", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Info(format string, args ...any)  { l.emit("INFO", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warn(format string, args ...any)  { l.emit("WARN", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Error(format string, args ...any) { l.emit("ERROR", fmt.Sprintf(format, args...), nil) }

// Fatal logs at FATAL and terminates the process, matching the teacher's
// logger semantics for unrecoverable startup failures.
func (l *Logger) Fatal(format string, args ...any) {
	l.emit("FATAL", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithFields returns a field-scoped logging context for structured,
// queryable log lines (e.g. provider name, client address).
func (l *Logger) WithFields(fields map[string]string) *Context {
	return &Context{logger: l, fields: fields}
}

// Context carries a fixed field set across several log calls.
type Context struct {
	logger *Logger
	fields map[string]string
}

func (c *Context) Info(message string)  { c.logger.emit("INFO", message, c.fields) }
func (c *Context) Warn(message string)  { c.logger.emit("WARN", message, c.fields) }
func (c *Context) Error(message string) { c.logger.emit("ERROR", message, c.fields) }
func (c *Context) Debug(message string) { c.logger.emit("DEBUG", message, c.fields) }
