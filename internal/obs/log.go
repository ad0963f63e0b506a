// Package obs is the observability surface: the shared JSON-line logger,
// Prometheus metrics, and the HTTP instrumentation middleware.
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

// Logger returns the process-wide logger. Output is one JSON object per line
// on stdout; callers either marshal their own payload or go through
// LogRequest.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured log line, stamping ts and service when the
// caller did not set them.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = make(map[string]any, 2)
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = "coachline-api"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
