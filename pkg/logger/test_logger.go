package logger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger captures log messages so tests can assert on them
type TestLogger struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage represents a captured log message
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// NewTestLogger creates a new test logger
func NewTestLogger() *TestLogger {
	return &TestLogger{messages: make([]LogMessage, 0)}
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, LogMessage{Level: level, Message: msg, Fields: fields})
}

// GetMessages returns a copy of all captured log messages
func (l *TestLogger) GetMessages() []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	messages := make([]LogMessage, len(l.messages))
	copy(messages, l.messages)
	return messages
}

// GetMessagesByLevel returns all messages of a specific level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var filtered []LogMessage
	for _, msg := range l.messages {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// HasMessage checks if a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if msg.Message == text {
			return true
		}
	}
	return false
}

// Clear clears all captured messages
func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
}

func (l *TestLogger) Debug(msg string) { l.record("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.record("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.record("ERROR", msg, nil) }
func (l *TestLogger) Fatal(msg string) { l.record("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("DEBUG", msg, fields)
}
func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("INFO", msg, fields)
}
func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("WARN", msg, fields)
}
func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("ERROR", msg, fields)
}
func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.record("FATAL", msg, fields)
}

// WithField returns a derived logger whose messages carry the field
func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return &testLoggerView{root: l, fields: map[string]interface{}{key: value}}
}

// WithFields returns a derived logger whose messages carry the fields
func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	copied := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &testLoggerView{root: l, fields: copied}
}

// WithError attaches the error as a field
func (l *TestLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithContext is a no-op for tests
func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }

// GetZerolog returns a no-op zerolog instance
func (l *TestLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// testLoggerView carries accumulated fields back to the root collector
type testLoggerView struct {
	root   *TestLogger
	fields map[string]interface{}
}

func (v *testLoggerView) merged(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v.fields)+len(extra))
	for k, val := range v.fields {
		out[k] = val
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

func (v *testLoggerView) Debug(msg string) { v.root.record("DEBUG", msg, v.merged(nil)) }
func (v *testLoggerView) Info(msg string)  { v.root.record("INFO", msg, v.merged(nil)) }
func (v *testLoggerView) Warn(msg string)  { v.root.record("WARN", msg, v.merged(nil)) }
func (v *testLoggerView) Error(msg string) { v.root.record("ERROR", msg, v.merged(nil)) }
func (v *testLoggerView) Fatal(msg string) { v.root.record("FATAL", msg, v.merged(nil)) }

func (v *testLoggerView) DebugWithFields(msg string, fields map[string]interface{}) {
	v.root.record("DEBUG", msg, v.merged(fields))
}
func (v *testLoggerView) InfoWithFields(msg string, fields map[string]interface{}) {
	v.root.record("INFO", msg, v.merged(fields))
}
func (v *testLoggerView) WarnWithFields(msg string, fields map[string]interface{}) {
	v.root.record("WARN", msg, v.merged(fields))
}
func (v *testLoggerView) ErrorWithFields(msg string, fields map[string]interface{}) {
	v.root.record("ERROR", msg, v.merged(fields))
}
func (v *testLoggerView) FatalWithFields(msg string, fields map[string]interface{}) {
	v.root.record("FATAL", msg, v.merged(fields))
}

func (v *testLoggerView) WithField(key string, value interface{}) Logger {
	next := v.merged(map[string]interface{}{key: value})
	return &testLoggerView{root: v.root, fields: next}
}

func (v *testLoggerView) WithFields(fields map[string]interface{}) Logger {
	return &testLoggerView{root: v.root, fields: v.merged(fields)}
}

func (v *testLoggerView) WithError(err error) Logger {
	if err == nil {
		return v
	}
	return v.WithField("error", err.Error())
}

func (v *testLoggerView) WithContext(ctx context.Context) Logger { return v }

func (v *testLoggerView) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
