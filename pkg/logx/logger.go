package logx

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured key-value logging for the CCI pipeline. It is
// a thin wrapper over logrus so every package logs through the same shape:
// a message plus alternating key-value fields.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger at the given level for a named component.
// Unknown levels fall back to info.
func NewLogger(level, component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	l.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

// SetLevel changes the log level at runtime.
func (lg *Logger) SetLevel(level string) {
	lg.entry.Logger.SetLevel(parseLevel(level))
}

// WithComponent returns a logger annotated with a sub-component name.
func (lg *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: lg.entry.WithField("component", component)}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fields accepts either alternating key-value pairs or a single
// map[string]interface{} and normalizes them into logrus fields.
func fields(kv []interface{}) logrus.Fields {
	out := logrus.Fields{}
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			for k, v := range m {
				out[k] = v
			}
			return out
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}

// Trace logs at trace level with structured fields.
func (lg *Logger) Trace(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Trace(msg)
}

// Debug logs at debug level with structured fields.
func (lg *Logger) Debug(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Debug(msg)
}

// Info logs at info level with structured fields.
func (lg *Logger) Info(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Info(msg)
}

// Warn logs at warn level with structured fields.
func (lg *Logger) Warn(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Warn(msg)
}

// Error logs at error level with structured fields.
func (lg *Logger) Error(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Error(msg)
}
