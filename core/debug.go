package core

import (
	"github.com/fclairamb/go-log"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

var (
	// debugPrintln is set by platform code to reach a UART or USB port
	debugPrintln DebugWriter = func(s string) {}

	// Disabled by default; the debug port may share the bridge link
	debugEnabled bool
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// DebugLogger is a log.Logger printing through DebugPrintln, so library
// packages log on the firmware the same way they do on a host.
type DebugLogger struct {
	fields []any
}

var _ log.Logger = DebugLogger{}

// NewDebugLogger returns a logger writing through the debug writer.
func NewDebugLogger() log.Logger {
	return DebugLogger{}
}

func (l DebugLogger) Debug(event string, keyvals ...any) { l.print("DEBUG", event, keyvals) }
func (l DebugLogger) Info(event string, keyvals ...any)  { l.print("INFO", event, keyvals) }
func (l DebugLogger) Warn(event string, keyvals ...any)  { l.print("WARN", event, keyvals) }
func (l DebugLogger) Error(event string, keyvals ...any) { l.print("ERROR", event, keyvals) }

// Panic logs the event and panics with it.
func (l DebugLogger) Panic(event string, keyvals ...any) {
	l.print("PANIC", event, keyvals)
	panic(event)
}

// With returns a logger adding keyvals to every event.
func (l DebugLogger) With(keyvals ...any) log.Logger {
	fields := make([]any, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	return DebugLogger{fields: append(fields, keyvals...)}
}

func (l DebugLogger) print(level, event string, keyvals []any) {
	if !debugEnabled {
		return
	}
	debugPrintln(formatEvent(level, event, l.fields, keyvals))
}

func formatEvent(level, event string, lists ...[]any) string {
	line := make([]byte, 0, 64)
	line = append(line, '[')
	line = append(line, level...)
	line = append(line, "] "...)
	line = append(line, event...)
	for _, kv := range lists {
		for i := 0; i < len(kv); i += 2 {
			line = append(line, ' ')
			line = append(line, valueToString(kv[i])...)
			line = append(line, '=')
			if i+1 < len(kv) {
				line = append(line, valueToString(kv[i+1])...)
			}
		}
	}
	return string(line)
}
