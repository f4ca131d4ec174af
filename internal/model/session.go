package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Anchor is the root question a tutoring dialogue branches from.
type Anchor struct {
	NodeID   string `json:"node_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Tier     Tier   `json:"tier,omitempty"`
}

// Session is per-conversation state. CurrentNodeID points into the cache
// tree but does not own the node.
type Session struct {
	ID             string    `json:"session_id"`
	CurrentNodeID  string    `json:"current_node_id,omitempty"`
	IsNewBranch    bool      `json:"is_new_branch"`
	Depth          int       `json:"depth"`
	Anchor         *Anchor   `json:"anchor,omitempty"`
	MessageHistory []Turn    `json:"message_history"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// Clone returns a deep copy safe to hand out of the session store.
func (s Session) Clone() Session {
	out := s
	if s.Anchor != nil {
		a := *s.Anchor
		out.Anchor = &a
	}
	out.MessageHistory = append([]Turn(nil), s.MessageHistory...)
	return out
}
