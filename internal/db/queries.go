package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// SessionSummary is a row of ListSessions.
type SessionSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Slots     int          `json:"slots"`
	Counts    tasks.Counts `json:"tasks"`
	CreatedAt int64        `json:"created_at"`
	UpdatedAt int64        `json:"updated_at"`
}

// LoadSession returns the named session, creating and storing an empty one
// when none exists.
func LoadSession(ctx context.Context, db *sql.DB, name string) (*session.State, error) {
	s, err := GetSession(ctx, db, name)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	s = session.New(name)
	if err := SaveSession(ctx, db, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession retrieves the named session.
func GetSession(ctx context.Context, db *sql.DB, name string) (*session.State, error) {
	nameNorm := session.NormalizeName(name)

	var (
		s            session.State
		analysisJSON sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, analysis_json, created_at, updated_at
		FROM sessions
		WHERE name = ?
	`, nameNorm).Scan(&s.ID, &s.Name, &analysisJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(nameNorm)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)

	if analysisJSON.Valid && analysisJSON.String != "" {
		var a session.Analysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &a); err != nil {
			return nil, errors.NewInternal(err)
		}
		s.Analysis = &a
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, task_json
		FROM slots
		WHERE session_id = ?
		ORDER BY idx
	`, s.ID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var stored []tasks.Task
	for rows.Next() {
		var (
			seq      string
			taskJSON string
			task     tasks.Task
		)
		if err := rows.Scan(&seq, &taskJSON); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
			return nil, errors.NewInternal(err)
		}
		s.Sequences = append(s.Sequences, seq)
		stored = append(stored, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	s.Tasks = tasks.FromTasks(stored)
	s.Sync()
	return &s, nil
}

// SaveSession writes the session and replaces its slots in one transaction.
func SaveSession(ctx context.Context, db *sql.DB, s *session.State) error {
	s.Sync()

	var analysisJSON sql.NullString
	if s.Analysis != nil {
		data, err := json.Marshal(s.Analysis)
		if err != nil {
			return errors.NewInternal(err)
		}
		analysisJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, analysis_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			analysis_json = excluded.analysis_json,
			updated_at = excluded.updated_at
	`, s.ID, s.Name, analysisJSON, s.CreatedAt.Unix(), s.UpdatedAt.Unix())
	if err != nil {
		return errors.NewInternal(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE session_id = ?`, s.ID); err != nil {
		return errors.NewInternal(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slots (session_id, idx, sequence, task_json)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	all := s.Tasks.Tasks()
	for i, seq := range s.Sequences {
		data, err := json.Marshal(all[i])
		if err != nil {
			return errors.NewInternal(err)
		}
		if _, err := stmt.ExecContext(ctx, s.ID, i, seq, string(data)); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListSessions returns all sessions, most recently updated first.
func ListSessions(ctx context.Context, db *sql.DB) ([]SessionSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.name, s.created_at, s.updated_at, sl.task_json
		FROM sessions s
		LEFT JOIN slots sl ON sl.session_id = s.id
		ORDER BY s.updated_at DESC, s.name, sl.idx
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var (
		out   []SessionSummary
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			sum      SessionSummary
			taskJSON sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.CreatedAt, &sum.UpdatedAt, &taskJSON); err != nil {
			return nil, errors.NewInternal(err)
		}
		i, ok := index[sum.ID]
		if !ok {
			out = append(out, sum)
			i = len(out) - 1
			index[sum.ID] = i
		}
		if !taskJSON.Valid {
			continue
		}
		var task tasks.Task
		if err := json.Unmarshal([]byte(taskJSON.String), &task); err != nil {
			return nil, errors.NewInternal(err)
		}
		out[i].Slots++
		countTask(&out[i].Counts, task.Status)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return out, nil
}

// DeleteSession removes the named session and its slots.
func DeleteSession(ctx context.Context, db *sql.DB, name string) error {
	nameNorm := session.NormalizeName(name)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE name = ?`, nameNorm).Scan(&id)
	if err == sql.ErrNoRows {
		return errors.NewNotFound(nameNorm)
	}
	if err != nil {
		return errors.NewInternal(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE session_id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func countTask(c *tasks.Counts, status tasks.Status) {
	switch status {
	case tasks.StatusIdle:
		c.Idle++
	case tasks.StatusRunning:
		c.Running++
	case tasks.StatusSuccess:
		c.Success++
	case tasks.StatusError:
		c.Error++
	}
}
