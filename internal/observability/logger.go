package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Logger is the structured logging interface used across the service.
// Fields are variadic key/value pairs: ("job_id", id, "error", err).
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	WithFields(fields map[string]interface{}) Logger
}

// StdoutLogger writes structured log lines to stdout, either as plain text
// or JSON.
type StdoutLogger struct {
	fields map[string]interface{}
	logger *log.Logger
	json   bool
}

// NewLogger creates a stdout logger. When jsonOutput is true every line is a
// JSON object.
func NewLogger(jsonOutput bool) Logger {
	return &StdoutLogger{
		fields: make(map[string]interface{}),
		logger: log.New(os.Stdout, "", 0),
		json:   jsonOutput,
	}
}

func (l *StdoutLogger) Info(msg string, fields ...interface{})  { l.log("INFO", msg, fields...) }
func (l *StdoutLogger) Warn(msg string, fields ...interface{})  { l.log("WARN", msg, fields...) }
func (l *StdoutLogger) Error(msg string, fields ...interface{}) { l.log("ERROR", msg, fields...) }
func (l *StdoutLogger) Debug(msg string, fields ...interface{}) { l.log("DEBUG", msg, fields...) }

// WithFields returns a logger that attaches the given fields to every line.
func (l *StdoutLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StdoutLogger{fields: merged, logger: l.logger, json: l.json}
}

func (l *StdoutLogger) log(level, msg string, fields ...interface{}) {
	entry := make(map[string]interface{})
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level
	entry["message"] = msg

	for k, v := range l.fields {
		entry[k] = v
	}

	// Variadic fields come in pairs: key1, value1, key2, value2, ...
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, ok := fields[i+1].(error); ok && err != nil {
			entry[key] = err.Error()
			continue
		}
		entry[key] = fields[i+1]
	}

	if l.json {
		data, err := json.Marshal(entry)
		if err != nil {
			l.logger.Printf("failed to marshal log entry: %v", err)
			return
		}
		l.logger.Println(string(data))
		return
	}

	timestamp := entry["timestamp"]
	delete(entry, "timestamp")
	delete(entry, "level")
	delete(entry, "message")

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := fmt.Sprintf("%s [%s] %s", timestamp, level, msg)
	if len(keys) > 0 {
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, entry[k]))
		}
		line += " | " + strings.Join(pairs, " ")
	}
	l.logger.Println(line)
}

// NopLogger discards everything. Used in tests.
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})               {}
func (NopLogger) Warn(string, ...interface{})               {}
func (NopLogger) Error(string, ...interface{})              {}
func (NopLogger) Debug(string, ...interface{})              {}
func (n NopLogger) WithFields(map[string]interface{}) Logger { return n }
