package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	duration TEXT NOT NULL DEFAULT '',
	participants INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	captions TEXT NOT NULL DEFAULT '[]',
	ai_logs TEXT NOT NULL DEFAULT '[]',
	ai_assists INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

const selectColumns = `SELECT id, title, summary, started_at, ended_at, duration, participants, status, captions, ai_logs, ai_assists FROM sessions`

// columns added after the first release, created on open when missing
var addedColumns = []struct{ name, definition string }{
	{"ai_logs", `TEXT NOT NULL DEFAULT '[]'`},
	{"ai_assists", `INTEGER NOT NULL DEFAULT 0`},
}

// SessionRepository stores sessions in a SQLite file. Captions are kept as a
// JSON array column.
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository opens (or creates) the database at path
func NewSessionRepository(path string, logger *zap.Logger) (*SessionRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; the caption path writes on every final
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite session store ready", zap.String("path", path))
	return &SessionRepository{db: db, logger: logger}, nil
}

// Create inserts a new session
func (r *SessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}
	captions, aiLogs, err := encodeLists(session)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
	INSERT INTO sessions (id, title, summary, started_at, ended_at, duration, participants, status, captions, ai_logs, ai_assists)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Summary, session.StartedAt, nullTime(session.EndedAt),
		session.Duration, session.Participants, string(session.Status), captions, aiLogs, session.AIAssists)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// Update overwrites all columns of an existing session
func (r *SessionRepository) Update(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}
	captions, aiLogs, err := encodeLists(session)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
	UPDATE sessions SET title = ?, summary = ?, started_at = ?, ended_at = ?, duration = ?,
		participants = ?, status = ?, captions = ?, ai_logs = ?, ai_assists = ?
	WHERE id = ?`,
		session.Title, session.Summary, session.StartedAt, nullTime(session.EndedAt), session.Duration,
		session.Participants, string(session.Status), captions, aiLogs, session.AIAssists, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}

// List returns sessions with the most recent first
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*entities.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*entities.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			r.logger.Error("Failed to decode session", zap.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}

// Close closes the database connection
func (r *SessionRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*entities.Session, error) {
	var (
		session  entities.Session
		status   string
		endedAt  sql.NullTime
		captions string
		aiLogs   string
	)
	err := row.Scan(&session.ID, &session.Title, &session.Summary, &session.StartedAt, &endedAt,
		&session.Duration, &session.Participants, &status, &captions, &aiLogs, &session.AIAssists)
	if err != nil {
		return nil, err
	}
	session.Status = entities.SessionStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(captions), &session.Captions); err != nil {
		return nil, fmt.Errorf("failed to decode captions: %w", err)
	}
	if err := json.Unmarshal([]byte(aiLogs), &session.AILogs); err != nil {
		return nil, fmt.Errorf("failed to decode ai logs: %w", err)
	}
	return &session, nil
}

func encodeLists(session *entities.Session) (captions, aiLogs string, err error) {
	c, err := json.Marshal(session.Captions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode captions: %w", err)
	}
	if session.Captions == nil {
		c = []byte("[]")
	}
	l, err := json.Marshal(session.AILogs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode ai logs: %w", err)
	}
	if session.AILogs == nil {
		l = []byte("[]")
	}
	return string(c), string(l), nil
}

// migrate adds columns missing from databases created by older versions
func migrate(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(sessions)`)
	if err != nil {
		return fmt.Errorf("failed to inspect table: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, kind string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &kind, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect table: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect table: %w", err)
	}

	for _, col := range addedColumns {
		if existing[col.name] {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE sessions ADD COLUMN ` + col.name + ` ` + col.definition); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
