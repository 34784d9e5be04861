package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AppLogger writes the optional diagnostic logs: HTTP traffic, WebSocket
// frames and the per-session event stream.
type AppLogger struct {
	outputDir      string
	logRequests    bool
	logEvents      bool
	logWS          bool
	debug          bool
	requestLog     *os.File
	eventLog       *os.File
	wsLog          *os.File
	mu             sync.Mutex
	requestCount   int
	wsMessageCount int
}

// appLogger is set by InitAppLogger in main; nil in tests that skip it.
var appLogger *AppLogger

// LogConfig holds logging configuration
type LogConfig struct {
	OutputDir   string
	LogRequests bool
	LogEvents   bool
	LogWS       bool
	Debug       bool
}

func openLog(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// NewAppLogger creates a new application logger
func NewAppLogger(config LogConfig) (*AppLogger, error) {
	al := &AppLogger{
		outputDir:   config.OutputDir,
		logRequests: config.LogRequests,
		logEvents:   config.LogEvents,
		logWS:       config.LogWS,
		debug:       config.Debug,
	}

	if al.outputDir == "" {
		return al, nil // debug lines only
	}
	if err := os.MkdirAll(al.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	var err error
	if al.logRequests {
		if al.requestLog, err = openLog(al.outputDir, "requests.log"); err != nil {
			al.Close()
			return nil, err
		}
	}
	if al.logEvents {
		if al.eventLog, err = openLog(al.outputDir, "events.log"); err != nil {
			al.Close()
			return nil, err
		}
	}
	if al.logWS {
		if al.wsLog, err = openLog(al.outputDir, "websocket.log"); err != nil {
			al.Close()
			return nil, err
		}
	}
	return al, nil
}

// InitAppLogger initializes the global application logger
func InitAppLogger(config LogConfig) error {
	var err error
	appLogger, err = NewAppLogger(config)
	return err
}

// Close closes all open log files
func (al *AppLogger) Close() {
	for _, f := range []*os.File{al.requestLog, al.eventLog, al.wsLog} {
		if f != nil {
			f.Close()
		}
	}
}

// requestEntry is one logged HTTP exchange.
type requestEntry struct {
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	ReqBody  []byte
	RespBody []byte
}

const maxLoggedBody = 2048

// LogRequest appends one HTTP exchange to requests.log.
func (al *AppLogger) LogRequest(e requestEntry) {
	if !al.logRequests || al.requestLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	al.requestCount++
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] #%d %s %s -> %d (%s)\n", time.Now().Format("15:04:05.000"),
		al.requestCount, e.Method, e.URL, e.Status, e.Duration.Round(time.Microsecond))
	writeBody(&buf, "request", e.ReqBody)
	writeBody(&buf, "response", e.RespBody)
	if _, err := al.requestLog.Write(buf.Bytes()); err != nil {
		log.Printf("LogRequest: %v", err)
	}
}

func writeBody(buf *bytes.Buffer, label string, body []byte) {
	if len(body) == 0 {
		return
	}
	if len(body) > maxLoggedBody {
		fmt.Fprintf(buf, "  %s (%d bytes, truncated): %s\n", label, len(body), body[:maxLoggedBody])
		return
	}
	fmt.Fprintf(buf, "  %s: %s\n", label, bytes.TrimSpace(body))
}

// LogEvent appends one session event as a JSON line.
func (al *AppLogger) LogEvent(sessionID string, ev Event) {
	if !al.logEvents || al.eventLog == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("LogEvent: marshal %s: %v", ev.Type, err)
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	fmt.Fprintf(al.eventLog, "[%s] %s %s\n", time.Now().Format("15:04:05.000"), sessionID, data)
}

// LogWebSocket appends one frame to websocket.log. who is a seat id, "viewer",
// "unbound" or "all" for broadcasts.
func (al *AppLogger) LogWebSocket(direction, who, message string) {
	if !al.logWS || al.wsLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	al.wsMessageCount++
	fmt.Fprintf(al.wsLog, "[%s] #%d %-3s %s: %s\n",
		time.Now().Format("15:04:05.000"), al.wsMessageCount, direction, who, message)
}

// Debug logs a debug message if debug mode is enabled
func (al *AppLogger) Debug(format string, args ...any) {
	if !al.debug {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// IsEnabled reports whether any extended logging is on.
func (al *AppLogger) IsEnabled() bool {
	return al.logRequests || al.logEvents || al.logWS || al.debug
}

// LoggingHandler records every HTTP exchange in requests.log. A websocket
// upgrade is passed straight through since it needs the real connection's
// http.Hijacker.
type LoggingHandler struct {
	Handler http.Handler
	Logger  *AppLogger
}

func (l *LoggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.URL.Path == "/ws" {
		l.Logger.LogRequest(requestEntry{Method: r.Method, URL: r.URL.String(), Status: http.StatusSwitchingProtocols})
		l.Handler.ServeHTTP(w, r)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	rec := httptest.NewRecorder()
	l.Handler.ServeHTTP(rec, r)

	maps.Copy(w.Header(), rec.Header())
	w.WriteHeader(rec.Code)
	respBody := rec.Body.Bytes()
	if _, err := w.Write(respBody); err != nil {
		logError("LoggingHandler", err)
	}

	l.Logger.LogRequest(requestEntry{
		Method:   r.Method,
		URL:      r.URL.String(),
		Status:   rec.Code,
		Duration: time.Since(start),
		ReqBody:  reqBody,
		RespBody: respBody,
	})
}

// Package-level helpers below are no-ops until InitAppLogger has run.

func LogWSMessage(direction, who, message string) {
	if appLogger != nil {
		appLogger.LogWebSocket(direction, who, message)
	}
}

// LogEvent logs a session event using the global logger
func LogEvent(sessionID string, ev Event) {
	if appLogger != nil {
		appLogger.LogEvent(sessionID, ev)
	}
}

// DebugLog logs a debug message tagged with the calling context
func DebugLog(context, format string, args ...any) {
	if appLogger != nil {
		appLogger.Debug(context+": "+format, args...)
	}
}

// CloseAppLogger closes the global application logger
func CloseAppLogger() {
	if appLogger != nil {
		appLogger.Close()
	}
}

// logError logs an error with context
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
}
