package storage

import (
	"context"
	"database/sql"
	"time"
)

// SessionRow is the indexed summary of a session. The full session state
// lives in the JSON store; this table exists for listing and lookups.
type SessionRow struct {
	ID          string    `json:"id" db:"id"`
	State       string    `json:"state" db:"state"`
	ProjectName *string   `json:"project_name,omitempty" db:"project_name"`
	FolderPath  *string   `json:"folder_path,omitempty" db:"folder_path"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MessageRow is one archived conversation message.
type MessageRow struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExecutionRow is one command attempt in the append-only execution log.
type ExecutionRow struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	StepIndex  int       `json:"step_index" db:"step_index"`
	Variant    string    `json:"variant" db:"variant"`
	Command    string    `json:"command" db:"command"`
	ExitCode   int       `json:"exit_code" db:"exit_code"`
	Success    bool      `json:"success" db:"success"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FunctionCallRow is one dispatched function call.
type FunctionCallRow struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	Name          string    `json:"name" db:"name"`
	Status        string    `json:"status" db:"status"`
	DurationMs    int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Execer is the subset of *sql.DB used for writes.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
