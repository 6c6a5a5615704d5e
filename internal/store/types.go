package store

import "time"

// --- Session Index (sessions/index.json) ---

type SessionMeta struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    string            `json:"status"` // "active", "archived"
	ActorID   string            `json:"actor_id,omitempty"`
	Target    string            `json:"target,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type SessionIndex struct {
	Sessions map[string]SessionMeta `json:"sessions"`
}

// --- Transcript (sessions/<id>.jsonl) ---

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type TranscriptEntry struct {
	ID         string         `json:"id"` // ULID
	Timestamp  time.Time      `json:"ts"`
	TurnID     string         `json:"turn_id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"meta,omitempty"`
}
