package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/store"

	"github.com/oklog/ulid/v2"
)

// Transcript receives an append-only record of everything said in a session.
type Transcript interface {
	AppendEntry(sessionID string, entry store.TranscriptEntry) error
}

type Options struct {
	ID           string
	ActorID      string
	Target       string
	WorkingDir   string
	PlanningMode bool
	Messages     []contract.Message
	// ActiveSkills are reactivated from Skills. Unknown names are skipped.
	ActiveSkills []string
	Profiles     map[string]policy.AgentPolicy
	Policy       *policy.Source
	Skills       *skill.Index
	Transcript   Transcript
}

// Session is the mutable context one conversation runs in. Accessors lock
// internally; the turn engine is the only writer while a turn runs.
type Session struct {
	id string

	mu         sync.RWMutex
	actorID    string
	target     string
	workingDir string
	planning   bool
	messages   []contract.Message
	profiles   map[string]policy.AgentPolicy

	policy     *policy.Source
	skills     *skill.Index
	active     *skill.ActiveSet
	transcript Transcript
}

func New(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = ulid.Make().String()
	}
	src := opts.Policy
	if src == nil {
		src = policy.NewSource(policy.NewStack())
	}
	skills := opts.Skills
	if skills == nil {
		skills = skill.NewIndex()
	}
	profiles := make(map[string]policy.AgentPolicy, len(opts.Profiles))
	for name, p := range opts.Profiles {
		profiles[name] = p
	}
	active := skill.NewActiveSet()
	for _, name := range opts.ActiveSkills {
		if _, err := active.Activate(name, "restored", skills); err != nil {
			slog.Warn("Skill not restored", "session_id", id, "skill", name, "error", err)
		}
	}
	return &Session{
		id:         id,
		actorID:    opts.ActorID,
		target:     opts.Target,
		workingDir: opts.WorkingDir,
		planning:   opts.PlanningMode,
		messages:   append([]contract.Message(nil), opts.Messages...),
		profiles:   profiles,
		policy:     src,
		skills:     skills,
		active:     active,
		transcript: opts.Transcript,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) ActorID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actorID
}

func (s *Session) SetActorID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actorID = id
}

func (s *Session) Target() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

func (s *Session) SetTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

func (s *Session) WorkingDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workingDir
}

func (s *Session) SetWorkingDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingDir = dir
}

func (s *Session) PlanningMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.planning
}

func (s *Session) SetPlanningMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planning = on
}

// Messages returns a copy of the history.
func (s *Session) Messages() []contract.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contract.Message(nil), s.messages...)
}

func (s *Session) AppendMessages(msgs ...contract.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

func (s *Session) ReplaceMessages(msgs []contract.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]contract.Message(nil), msgs...)
}

// LastAssistantText is the content of the newest assistant message.
func (s *Session) LastAssistantText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == contract.RoleAssistant {
			return s.messages[i].Content
		}
	}
	return ""
}

func (s *Session) PolicySource() *policy.Source {
	return s.policy
}

// SetProfilePolicy registers a session-scoped profile policy. Profiles sit
// above every other level and only affect this session.
func (s *Session) SetProfilePolicy(name string, p policy.AgentPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[name] = p
}

// ProfilePolicies returns a copy of the registered profiles.
func (s *Session) ProfilePolicies() map[string]policy.AgentPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]policy.AgentPolicy, len(s.profiles))
	for name, p := range s.profiles {
		out[name] = p
	}
	return out
}

func (s *Session) ClearProfilePolicies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]policy.AgentPolicy)
}

// Policy returns a private snapshot of the current stack with this
// session's profiles and active model applied. Later reloads of the shared
// stack do not affect a snapshot already taken.
func (s *Session) Policy(model string) *policy.Stack {
	stack := s.policy.Current().Clone()

	s.mu.RLock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stack.AddProfilePolicy(name, s.profiles[name])
	}
	s.mu.RUnlock()

	if model != "" {
		stack.SetModel(model)
	}
	return stack
}

func (s *Session) Skills() *skill.Index {
	return s.skills
}

func (s *Session) ActiveSkills() *skill.ActiveSet {
	return s.active
}

// Record appends a transcript entry. Failures are logged and never fail the
// turn.
func (s *Session) Record(ctx context.Context, role store.Role, content string, meta map[string]any) {
	s.RecordTool(ctx, role, "", "", content, meta)
}

func (s *Session) RecordTool(ctx context.Context, role store.Role, name, callID, content string, meta map[string]any) {
	if s.transcript == nil {
		return
	}
	entry := store.TranscriptEntry{
		ID:         ulid.Make().String(),
		Timestamp:  time.Now().UTC(),
		TurnID:     logger.GetTurnID(ctx),
		Role:       role,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
		Metadata:   meta,
	}
	if err := s.transcript.AppendEntry(s.id, entry); err != nil {
		slog.Warn("Transcript append failed", "session_id", s.id, "error", err)
	}
}
