package turnstate

import (
	"encoding/json"
	"time"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

type YieldReason string

const (
	AwaitingApproval YieldReason = "awaiting_approval"
	AwaitingInput    YieldReason = "awaiting_input"
)

// PendingAction is the one tool call a suspended turn is waiting on.
// Arguments keep the model's JSON text untouched.
type PendingAction struct {
	CallID           string          `json:"call_id"`
	ToolName         string          `json:"tool_name"`
	Arguments        string          `json:"arguments"`
	MatchedRule      string          `json:"matched_rule,omitempty"`
	PendingQuestions json.RawMessage `json:"pending_questions,omitempty"`
}

// TurnState is the full snapshot of a suspended turn. It is written once,
// consumed once by Take, and never updated in place.
type TurnState struct {
	TurnID           string             `json:"turn_id"`
	SessionID        string             `json:"session_id"`
	RequestID        string             `json:"request_id,omitempty"`
	ActorID          string             `json:"actor_id,omitempty"`
	MessageHistory   []contract.Message `json:"message_history"`
	PendingAction    PendingAction      `json:"pending_action"`
	YieldReason      YieldReason        `json:"yield_reason"`
	TargetModel      string             `json:"target_model"`
	WorkingDirectory string             `json:"working_directory,omitempty"`
	PlanningMode     bool               `json:"planning_mode,omitempty"`
	ActiveSkills     []string           `json:"active_skills,omitempty"`
	// Profiles holds the session's profile policies keyed by name.
	Profiles  json.RawMessage `json:"profiles,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Expired reports whether the state is older than ttl at now. A ttl of zero
// disables expiry.
func (s *TurnState) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > ttl
}

// NewTurnID returns a fresh, time-sortable identifier.
func NewTurnID() string {
	return ulid.Make().String()
}
