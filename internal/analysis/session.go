package analysis

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Role identifies one of the four pipeline agents
type Role string

const (
	RoleSearchTermAnalyst Role = "search_term_analyst"
	RoleACOSExpert        Role = "acos_expert"
	RoleBidStrategist     Role = "bid_strategist"
	RoleIntegrator        Role = "suggestion_integrator"
)

// Roles lists every role in display order
var Roles = []Role{RoleSearchTermAnalyst, RoleACOSExpert, RoleBidStrategist, RoleIntegrator}

// AnalystRoles are the roles that run concurrently before the integrator
var AnalystRoles = []Role{RoleSearchTermAnalyst, RoleACOSExpert, RoleBidStrategist}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// AgentState is the progress of one role on the current target
type AgentState struct {
	ID        Role            `json:"id"`
	Name      string          `json:"name"`
	Status    AgentStatus     `json:"status"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Streaming string          `json:"streaming_content,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

// TargetProgress counts targets of a run
type TargetProgress struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Targets   []string `json:"targets"`
	Failed    []string `json:"failed"`
}

// Snapshot is a point-in-time copy of a session.
// Result values it references are never mutated after being stored.
type Snapshot struct {
	ID             string         `json:"id"`
	TargetACOS     float64        `json:"target_acos"`
	Agents         []AgentState   `json:"agents"`
	Status         Status         `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	FinalResult    *MergedResult  `json:"final_result,omitempty"`
	CurrentTarget  string         `json:"current_target,omitempty"`
	Progress       TargetProgress `json:"progress"`
	PartialResults []TargetResult `json:"partial_results"`
	UnknownSkipped int            `json:"unknown_skipped"`
	Error          string         `json:"error,omitempty"`
}

// Agent returns the state of one role
func (s Snapshot) Agent(role Role) (AgentState, bool) {
	for _, a := range s.Agents {
		if a.ID == role {
			return a, true
		}
	}
	return AgentState{}, false
}

// Session is the live, mutex-guarded state of one run
type Session struct {
	mu    sync.Mutex
	state Snapshot
	names map[Role]string
}

// NewSession creates a session with every role pending
func NewSession(targetACOS float64, names map[Role]string, now time.Time) *Session {
	s := &Session{names: names}
	s.state = Snapshot{
		ID:             fmt.Sprintf("session_%d", now.UnixMilli()),
		TargetACOS:     targetACOS,
		Status:         StatusIdle,
		StartTime:      now,
		PartialResults: []TargetResult{},
		Progress:       TargetProgress{Targets: []string{}, Failed: []string{}},
	}
	s.resetAgentsLocked()
	return s
}

// Snapshot returns an independent copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	snap.Agents = append([]AgentState(nil), s.state.Agents...)
	snap.PartialResults = append([]TargetResult{}, s.state.PartialResults...)
	snap.Progress.Targets = append([]string{}, s.state.Progress.Targets...)
	snap.Progress.Failed = append([]string{}, s.state.Progress.Failed...)
	return snap
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Session) updateAgent(role Role, fn func(*AgentState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Agents {
		if s.state.Agents[i].ID == role {
			fn(&s.state.Agents[i])
			return
		}
	}
}

func (s *Session) resetAgents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetAgentsLocked()
}

func (s *Session) resetAgentsLocked() {
	agents := make([]AgentState, 0, len(Roles))
	for _, role := range Roles {
		name := s.names[role]
		if name == "" {
			name = string(role)
		}
		agents = append(agents, AgentState{ID: role, Name: name, Status: AgentPending})
	}
	s.state.Agents = agents
}

func (s *Session) partialResults() []TargetResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TargetResult(nil), s.state.PartialResults...)
}
