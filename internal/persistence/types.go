package persistence

import (
	"time"

	"github.com/chenapple/thesaurus-management/internal/analysis"
)

// SessionRecord is a stored analysis run together with its input
type SessionRecord struct {
	ID         string                `json:"id"`
	Source     string                `json:"source"`
	Status     analysis.Status       `json:"status"`
	TargetACOS float64               `json:"target_acos"`
	Terms      []analysis.SearchTerm `json:"terms,omitempty"`
	Failed     []string              `json:"failed,omitempty"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// TargetCheckpoint is the stored result of one completed target
type TargetCheckpoint struct {
	SessionID string                `json:"session_id"`
	Country   string                `json:"country"`
	Position  int                   `json:"position"`
	Result    analysis.TargetResult `json:"result"`
	UpdatedAt time.Time             `json:"updated_at"`
}
