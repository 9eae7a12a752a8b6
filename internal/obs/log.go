package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared JSON-line logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogEntry emits a structured JSON log line. A ts field is stamped
// unless the caller already set one, so audit sinks can carry the
// event's own timestamp instead of the write time.
func LogEntry(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogAudit renders a security audit record in the same line format as
// the request log, so one collector ingests both streams. Empty
// username and detail are omitted rather than logged as blanks.
func LogAudit(at time.Time, id, kind, outcome, username, detail string) {
	entry := map[string]any{
		"ts":      at.UTC().Format(time.RFC3339Nano),
		"type":    "audit",
		"id":      id,
		"event":   kind,
		"outcome": outcome,
	}
	if username != "" {
		entry["username"] = username
	}
	if detail != "" {
		entry["detail"] = detail
	}
	LogEntry(entry)
}
