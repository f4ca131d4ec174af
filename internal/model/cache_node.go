package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Tier identifies which backend produced a cached or routed answer.
type Tier string

const (
	TierCache       Tier = "cache"
	TierFast        Tier = "fast"
	TierSpecialized Tier = "specialized"
	TierGeneral     Tier = "general"
)

func (t Tier) Valid() bool {
	switch t {
	case TierCache, TierFast, TierSpecialized, TierGeneral:
		return true
	}
	return false
}

// Vector is an embedding persisted as a JSON array of float32.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("marshal vector failed: %w", err)
	}
	return string(b), nil
}

func (v *Vector) Scan(src interface{}) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return fmt.Errorf("unsupported vector source %T", src)
	}
	if len(raw) == 0 {
		*v = nil
		return nil
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal vector failed: %w", err)
	}
	*v = out
	return nil
}

// CacheNode is one cached question/answer or tutoring turn. Nodes are
// append-only: once stored they are never rewritten or re-parented.
type CacheNode struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ParentID   *string   `gorm:"size:36;index" json:"parent_id,omitempty"`
	Embedding  Vector    `gorm:"type:mediumtext" json:"-"`
	QueryText  string    `gorm:"type:text;not null" json:"query_text"`
	AnswerText string    `gorm:"type:mediumtext;not null" json:"answer_text"`
	TierUsed   Tier      `gorm:"size:16;not null;index" json:"tier_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// Parent returns the parent id, or "" for a root node.
func (n *CacheNode) Parent() string {
	if n.ParentID == nil {
		return ""
	}
	return *n.ParentID
}

// ParentRef converts "" to a nil parent reference.
func ParentRef(parentID string) *string {
	if parentID == "" {
		return nil
	}
	p := parentID
	return &p
}
