// Package session holds per-conversation diagnostic state and its
// persistence. One State per session id; the serve layer serializes turns so
// there is at most one in-flight mutation per session.
package session

import (
	"time"

	"github.com/voltworks/aftercare/pkg/oracle"
)

// Role of a logged message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one logged conversation turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Result is the terminal marker of a diagnostic flow.
type Result string

const (
	ResultUnset     Result = ""
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultError     Result = "error"
)

// Terminal reports whether the flow reached a terminal marker.
func (r Result) Terminal() bool { return r != ResultUnset }

// State is the serializable per-session diagnostic state.
//
// Invariants maintained by the flow engine: Cursor never decreases, and
// Result moves away from ResultUnset at most once.
type State struct {
	ID           string         `json:"id"`
	Cursor       int            `json:"cursor"`
	CustomerInfo map[string]any `json:"customer_info"`
	InfoComplete bool           `json:"info_complete"`
	Result       Result         `json:"diagnostic_result,omitempty"`
	Messages     []Message      `json:"messages"`

	// LastVerdict keeps the most recent oracle response for observability
	// only; it plays no part in control flow.
	LastVerdict *oracle.Verdict `json:"last_verdict,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty session state.
func New(id string) *State {
	return &State{
		ID:           id,
		CustomerInfo: make(map[string]any),
	}
}

// Append logs one turn.
func (s *State) Append(role, text string) {
	s.Messages = append(s.Messages, Message{Role: role, Text: text})
}

// LastRole returns the role of the most recent logged message, or "".
func (s *State) LastRole() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Role
}

// MergeInfo overlays newly supplied customer attributes. Later turns win.
func (s *State) MergeInfo(info map[string]any) {
	if s.CustomerInfo == nil {
		s.CustomerInfo = make(map[string]any, len(info))
	}
	for k, v := range info {
		s.CustomerInfo[k] = v
	}
}
