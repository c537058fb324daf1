package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Terminal logging. Severity-tagged lines on stderr, matching the
// collector's and agent's operational output.

func Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}

// Event log. One JSON object per line, appended to a per-run file under
// the platform log directory. Used by the collector to keep a machine
// readable trail of session and frame activity.

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	SessionID  string    `json:"session_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Username   string    `json:"username,omitempty"`
	Size       int       `json:"size,omitempty"`
	Path       string    `json:"path,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type Logger struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	logDir string
	runID  string
}

func NewLogger(runID string) (*Logger, error) {
	logDir, err := getLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get log directory: %w", err)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("%s.log", runID))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		file:   file,
		enc:    json.NewEncoder(file),
		logDir: logDir,
		runID:  runID,
	}, nil
}

func getLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var logDir string
	switch runtime.GOOS {
	case "windows":
		logDir = filepath.Join(homeDir, "AppData", "Local", "screenspool", "logs")
	case "darwin":
		logDir = filepath.Join(homeDir, "Library", "Logs", "screenspool")
	default: // linux and others
		logDir = filepath.Join(homeDir, ".local", "share", "screenspool", "logs")
		// Use XDG_DATA_HOME if set
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			logDir = filepath.Join(xdgData, "screenspool", "logs")
		}
	}

	return logDir, nil
}

func (l *Logger) Log(entry LogEntry) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()
	l.enc.Encode(entry)
}

func (l *Logger) LogSession(event, sessionID, remoteAddr string) {
	l.Log(LogEntry{
		Event:      event,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
	})
}

func (l *Logger) LogAuth(sessionID, remoteAddr, hostname, username string) {
	l.Log(LogEntry{
		Event:      "auth",
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Hostname:   hostname,
		Username:   username,
	})
}

func (l *Logger) LogFrame(sessionID, remoteAddr, path string, size int) {
	l.Log(LogEntry{
		Event:      "frame",
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Path:       path,
		Size:       size,
	})
}

func (l *Logger) LogError(event, sessionID, remoteAddr string, err error) {
	l.Log(LogEntry{
		Event:      event,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Error:      err.Error(),
	})
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) GetLogPath() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}
