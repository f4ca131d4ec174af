package model

// RoutingDecision is the outcome of one routing pass.
type RoutingDecision struct {
	Tier Tier `json:"tier"`
	// Level is the routing level (1-4) that produced the answer; SelectedLevel
	// is the one chosen from the similarity score before any escalation.
	Level         int      `json:"level"`
	SelectedLevel int      `json:"selected_level"`
	Confidence    *float64 `json:"confidence"`
	UsedCache     bool     `json:"used_cache"`
	Answer        string   `json:"answer"`
	// NodeID is the matched node for a validated hit, or the id reserved for
	// the write-back of a freshly generated answer.
	NodeID  string `json:"node_id,omitempty"`
	Written bool   `json:"written"`
}

// QueryDecision is a single-turn answer, tied to a session when one was given.
type QueryDecision struct {
	RoutingDecision
	SessionID string `json:"session_id,omitempty"`
}

type TutoringDecision struct {
	RoutingDecision
	SessionID     string `json:"session_id"`
	Intent        string `json:"intent,omitempty"`
	IntentMethod  string `json:"intent_method,omitempty"`
	IsComplete    bool   `json:"is_complete"`
	Depth         int    `json:"depth"`
	LookupSkipped bool   `json:"lookup_skipped"`
	NextPrompt    string `json:"next_prompt,omitempty"`
}
