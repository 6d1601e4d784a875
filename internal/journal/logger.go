package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types
const (
	TypeRunStart    = "run_start"
	TypeRunEnd      = "run_end"
	TypeSpawn       = "spawn"
	TypeSpawnFailed = "spawn_failed"
	TypeEnter       = "enter"
	TypeExit        = "exit"
)

// Event represents one entry of the run journal
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	RunID     string            `json:"run_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	PID       int               `json:"pid,omitempty"`
	ChildPID  int               `json:"child_pid,omitempty"`
	ChildRole string            `json:"child_role,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Error     string            `json:"error,omitempty"`
	Outcome   string            `json:"outcome,omitempty"` // "stopped", "killed", "error"
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Logger appends journal events to a file as JSON lines.
// Every spawned process opens the same file in append mode, so each event
// is written with a single write call.
type Logger struct {
	logFile string
	runID   string
	file    *os.File
	lock    sync.Mutex
	logger  *slog.Logger
}

// NewLogger opens (or creates) the journal file. runID is stamped on every
// event that does not carry its own.
func NewLogger(logFile, runID string) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("journal file path cannot be empty")
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Logger{
		logFile: logFile,
		runID:   runID,
		file:    file,
		logger:  slog.Default(),
	}, nil
}

// Path returns the journal file path
func (l *Logger) Path() string {
	return l.logFile
}

// RunID returns the run identifier stamped on events
func (l *Logger) RunID() string {
	return l.runID
}

// Log writes a journal event
func (l *Logger) Log(event Event) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return fmt.Errorf("journal file not initialized")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal event: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync journal file", slog.String("error", err.Error()))
	}

	return nil
}

// LogRunStart records the start of a run
func (l *Logger) LogRunStart(population int, topology string, tick time.Duration) error {
	return l.Log(Event{
		Type: TypeRunStart,
		Metadata: map[string]string{
			"population": fmt.Sprintf("%d", population),
			"topology":   topology,
			"tick":       tick.String(),
		},
	})
}

// LogRunEnd records the end of a run and how the population was stopped
func (l *Logger) LogRunEnd(duration time.Duration, outcome string) error {
	return l.Log(Event{
		Type:    TypeRunEnd,
		Outcome: outcome,
		Metadata: map[string]string{
			// ISO 8601 duration
			"duration": fmt.Sprintf("PT%d.%09dS", int64(duration.Seconds()), duration.Nanoseconds()%1e9),
		},
	})
}

// Close closes the journal file
func (l *Logger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
