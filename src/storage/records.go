package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"

	"github.com/scaffoldhq/scaffold/src/engine"
)

// UpsertSession writes or refreshes a session's index row.
func UpsertSession(ctx context.Context, db Execer, row *SessionRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.UpdatedAt = time.Now()

	query := `INSERT INTO sessions (id, state, project_name, folder_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state,
			project_name = excluded.project_name,
			folder_path = excluded.folder_path,
			updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		row.ID, row.State, row.ProjectName, row.FolderPath, row.CreatedAt, row.UpdatedAt)
	return err
}

// GetSessionByID retrieves a session index row, nil when absent.
func GetSessionByID(ctx context.Context, db sqlscan.Querier, id string) (*SessionRow, error) {
	query := `SELECT id, state, project_name, folder_path, created_at, updated_at FROM sessions WHERE id = ?`
	var row SessionRow
	err := sqlscan.Get(ctx, db, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListSessions returns all session index rows, most recent first.
func ListSessions(ctx context.Context, db sqlscan.Querier) ([]SessionRow, error) {
	query := `SELECT id, state, project_name, folder_path, created_at, updated_at FROM sessions ORDER BY updated_at DESC`
	var rows []SessionRow
	if err := sqlscan.Select(ctx, db, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteSession removes a session index row and its dependent records.
func DeleteSession(ctx context.Context, db Execer, id string) error {
	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM execution_log WHERE session_id = ?`,
		`DELETE FROM function_calls WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := db.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage archives one conversation message.
func AppendMessage(ctx context.Context, db Execer, row *MessageRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, row.ID, row.SessionID, row.Role, row.Content, row.CreatedAt)
	return err
}

// GetMessages returns a session's archived messages in order.
func GetMessages(ctx context.Context, db sqlscan.Querier, sessionID string) ([]MessageRow, error) {
	query := `SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at`
	var rows []MessageRow
	if err := sqlscan.Select(ctx, db, &rows, query, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}

// AppendExecutionRow appends one attempt to the execution log. Rows are
// never updated or deleted outside session removal.
func AppendExecutionRow(ctx context.Context, db Execer, row *ExecutionRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `INSERT INTO execution_log (id, session_id, step_index, variant, command, exit_code, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		row.ID, row.SessionID, row.StepIndex, row.Variant, row.Command,
		row.ExitCode, row.Success, row.DurationMs, row.CreatedAt)
	return err
}

// GetExecutionLog returns a session's attempts in append order.
func GetExecutionLog(ctx context.Context, db sqlscan.Querier, sessionID string) ([]ExecutionRow, error) {
	query := `SELECT id, session_id, step_index, variant, command, exit_code, success, duration_ms, created_at
		FROM execution_log WHERE session_id = ? ORDER BY created_at, step_index`
	var rows []ExecutionRow
	if err := sqlscan.Select(ctx, db, &rows, query, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}

// AppendFunctionCall records one dispatched function call.
func AppendFunctionCall(ctx context.Context, db Execer, row *FunctionCallRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `INSERT INTO function_calls (id, session_id, correlation_id, name, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		row.ID, row.SessionID, row.CorrelationID, row.Name, row.Status, row.DurationMs, row.CreatedAt)
	return err
}

// GetFunctionCalls returns a session's function call records in order.
func GetFunctionCalls(ctx context.Context, db sqlscan.Querier, sessionID string) ([]FunctionCallRow, error) {
	query := `SELECT id, session_id, correlation_id, name, status, duration_ms, created_at
		FROM function_calls WHERE session_id = ? ORDER BY created_at`
	var rows []FunctionCallRow
	if err := sqlscan.Select(ctx, db, &rows, query, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}

// AppendExecution adapts engine attempt records onto the execution log,
// satisfying engine.ExecutionLogger.
func (d *DB) AppendExecution(ctx context.Context, rec engine.AttemptRecord) error {
	return AppendExecutionRow(ctx, d.db, &ExecutionRow{
		SessionID:  rec.SessionID,
		StepIndex:  rec.StepIndex,
		Variant:    rec.Variant,
		Command:    rec.Command,
		ExitCode:   rec.ExitCode,
		Success:    rec.Success,
		DurationMs: rec.Duration.Milliseconds(),
	})
}
