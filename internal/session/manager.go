package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/store"
)

// IndexStore persists session metadata and transcripts. *store.Worker
// implements it.
type IndexStore interface {
	Transcript
	GetSession(id string) (*store.SessionMeta, error)
	SaveSession(meta *store.SessionMeta) error
	ReadTranscript(sessionID string, limit int) ([]string, error)
}

// Manager opens sessions against shared policy, skills and storage.
type Manager struct {
	store  IndexStore
	policy *policy.Source
	skills *skill.Index
}

func NewManager(s IndexStore, src *policy.Source, skills *skill.Index) *Manager {
	return &Manager{store: s, policy: src, skills: skills}
}

// Open builds a session and upserts its index entry. Missing shared
// collaborators in opts are filled from the manager.
func (m *Manager) Open(ctx context.Context, opts Options) *Session {
	if opts.Policy == nil {
		opts.Policy = m.policy
	}
	if opts.Skills == nil {
		opts.Skills = m.skills
	}
	if opts.Transcript == nil && m.store != nil {
		opts.Transcript = m.store
	}
	s := New(opts)
	m.Touch(s)
	return s
}

// Touch updates the index entry's actor, target and timestamp.
func (m *Manager) Touch(s *Session) {
	if m.store == nil {
		return
	}
	now := time.Now().UTC()
	meta, err := m.store.GetSession(s.ID())
	if err != nil {
		slog.Warn("Session lookup failed", "session_id", s.ID(), "error", err)
		return
	}
	if meta == nil {
		meta = &store.SessionMeta{ID: s.ID(), Status: "active", CreatedAt: now}
	}
	meta.ActorID = s.ActorID()
	meta.Target = s.Target()
	meta.UpdatedAt = now
	if err := m.store.SaveSession(meta); err != nil {
		slog.Warn("Session index update failed", "session_id", s.ID(), "error", err)
	}
}

// History returns the newest transcript entries of a session, oldest first.
// Unparseable lines are skipped.
func (m *Manager) History(sessionID string, limit int) ([]store.TranscriptEntry, error) {
	if m.store == nil {
		return nil, nil
	}
	lines, err := m.store.ReadTranscript(sessionID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]store.TranscriptEntry, 0, len(lines))
	for _, line := range lines {
		var e store.TranscriptEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
