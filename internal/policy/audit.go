package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/store"
)

// AuditEntry records one policy decision and, for executed tools, its outcome.
type AuditEntry struct {
	Timestamp   time.Time       `json:"ts"`
	TraceID     string          `json:"trace_id,omitempty"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	ActorID     string          `json:"actor_id,omitempty"`
	ToolName    string          `json:"tool"`
	CallID      string          `json:"call_id,omitempty"`
	Decision    Decision        `json:"decision"`
	Rule        string          `json:"rule,omitempty"`
	Level       string          `json:"level,omitempty"`
	Status      string          `json:"status,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type AuditFilter struct {
	WorkspaceID string
	SessionID   string
	ActorID     string
	ToolName    string
	Decision    Decision
	StartTime   time.Time
	EndTime     time.Time
	Status      string
}

type AuditLogger interface {
	Log(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error)
}

type DefaultAuditLogger struct {
	mu          sync.RWMutex
	logPath     string
	workspaceID string
	enabled     bool
	redactors   []*regexp.Regexp
	literals    []string
}

func NewAuditLogger(workspaceID string, workspaceRootPath string, cfg config.AuditConfig) (*DefaultAuditLogger, error) {
	if !cfg.Enabled {
		return &DefaultAuditLogger{
			enabled: false,
		}, nil
	}

	baseDir, err := store.GetGovernanceDir(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	al := &DefaultAuditLogger{
		logPath:     filepath.Join(baseDir, "decisions.jsonl"),
		workspaceID: workspaceID,
		enabled:     true,
	}
	for _, pattern := range cfg.RedactPatterns {
		if pattern == "" {
			continue
		}
		if re, err := regexp.Compile(pattern); err == nil {
			al.redactors = append(al.redactors, re)
		} else {
			al.literals = append(al.literals, pattern)
		}
	}
	return al, nil
}

func (al *DefaultAuditLogger) Enabled() bool {
	return al.enabled
}

func (al *DefaultAuditLogger) Path() string {
	return al.logPath
}

func (al *DefaultAuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	if !al.enabled {
		return nil
	}
	if entry == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.TraceID == "" {
		entry.TraceID = logger.GetTraceID(ctx)
	}
	if entry.SessionID == "" {
		entry.SessionID = logger.GetSessionID(ctx)
	}
	if entry.WorkspaceID == "" {
		entry.WorkspaceID = al.workspaceID
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	entryJSON, err := json.Marshal(al.redact(entry))
	if err != nil {
		slog.Error("Failed to marshal audit entry", "error", err)
		return err
	}

	f, err := os.OpenFile(al.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(entryJSON, '\n')); err != nil {
		slog.Error("Failed to write audit entry", "error", err)
		return err
	}

	slog.Debug("Audit entry logged", "trace_id", entry.TraceID, "tool", entry.ToolName, "decision", entry.Decision)
	return nil
}

func (al *DefaultAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if !al.enabled {
		return []*AuditEntry{}, nil
	}

	al.mu.RLock()
	defer al.mu.RUnlock()

	file, err := os.Open(al.logPath)
	if os.IsNotExist(err) {
		return []*AuditEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []*AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			slog.Warn("Failed to parse audit entry", "line", string(line), "error", err)
			continue
		}
		if filter == nil || matchesFilter(&entry, filter) {
			entries = append(entries, &entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (al *DefaultAuditLogger) redact(entry *AuditEntry) *AuditEntry {
	redacted := *entry
	redacted.Input = al.redactRaw(redacted.Input)
	redacted.Output = al.redactRaw(redacted.Output)
	return &redacted
}

// redactRaw masks secrets inside a JSON payload. If masking breaks the JSON
// the payload is stored as a quoted string instead.
func (al *DefaultAuditLogger) redactRaw(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return data
	}
	s := string(data)
	for _, re := range al.redactors {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	for _, lit := range al.literals {
		s = strings.ReplaceAll(s, lit, "[REDACTED]")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func matchesFilter(entry *AuditEntry, filter *AuditFilter) bool {
	if filter.WorkspaceID != "" && entry.WorkspaceID != filter.WorkspaceID {
		return false
	}
	if filter.SessionID != "" && entry.SessionID != filter.SessionID {
		return false
	}
	if filter.ActorID != "" && entry.ActorID != filter.ActorID {
		return false
	}
	if filter.ToolName != "" && entry.ToolName != filter.ToolName {
		return false
	}
	if filter.Decision != "" && entry.Decision != filter.Decision {
		return false
	}
	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.Status != "" && entry.Status != filter.Status {
		return false
	}
	return true
}
