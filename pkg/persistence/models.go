package persistence

import "time"

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"
)

// Run is one orchestrator run, spanning every outer-gate iteration.
type Run struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Iterations int        `json:"iterations"`
}

// TurnRecord is a durable transcript turn. Content holds the JSON-encoded turn content.
type TurnRecord struct {
	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	Iteration int       `json:"iteration"`
}

// KnowledgeRecord is a stored knowledge entry.
type KnowledgeRecord struct {
	CreatedAt   time.Time `json:"created_at"`
	Category    string    `json:"category"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	ID          int64     `json:"id"`
}

// CorrectionRecord is a user correction captured at the outer gate.
type CorrectionRecord struct {
	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id"`
	Text      string    `json:"text"`
	ID        int64     `json:"id"`
}
