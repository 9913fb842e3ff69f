package testutils

import "sync"

// TestingT is the subset of testing.T used by the helpers
type TestingT interface {
	Errorf(format string, args ...any)
}

// FieldsToMap converts alternating key/value log fields to a map,
// reporting malformed entries through t.
func FieldsToMap(t TestingT, fields []any) map[string]any {
	fieldsMap := make(map[string]any)

	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			t.Errorf("Malformed fields slice: missing value for key at index %d", i)
			continue
		}
		key, ok := fields[i].(string)
		if !ok {
			t.Errorf("Malformed fields slice: key at index %d is not a string, got %T", i, fields[i])
			continue
		}
		fieldsMap[key] = fields[i+1]
	}

	return fieldsMap
}

// Entry is one call recorded by CaptureLogger
type Entry struct {
	Level  string
	Msg    string
	Fields []any
}

// CaptureLogger records every log call; it satisfies logging.Logger
type CaptureLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *CaptureLogger) record(level, msg string, fields []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

func (c *CaptureLogger) Debug(msg string, fields ...any) { c.record("debug", msg, fields) }
func (c *CaptureLogger) Info(msg string, fields ...any)  { c.record("info", msg, fields) }
func (c *CaptureLogger) Warn(msg string, fields ...any)  { c.record("warn", msg, fields) }
func (c *CaptureLogger) Error(msg string, fields ...any) { c.record("error", msg, fields) }

// Entries returns a copy of what has been logged so far
func (c *CaptureLogger) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Find returns entries at level whose message equals msg
func (c *CaptureLogger) Find(level, msg string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Level == level && e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}
