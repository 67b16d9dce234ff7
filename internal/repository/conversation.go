package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const sessionColumns = `id, customer_name, customer_email, agent_id, status, created_at, updated_at`

// CreateSession stores a new chat session.
func (r *SQLRepository) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	if session.ID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if session.Status == "" {
		session.Status = domain.SessionOpen
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `INSERT INTO chat_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		session.ID, session.CustomerName, session.CustomerEmail, session.AgentID,
		session.Status, session.CreatedAt, session.UpdatedAt,
	)
	return err
}

// GetSession retrieves a chat session by ID.
func (r *SQLRepository) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, r.rebind(query), sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns every chat session, oldest first.
func (r *SQLRepository) ListSessions(ctx context.Context) ([]*domain.ChatSession, error) {
	return r.querySessions(ctx, `SELECT `+sessionColumns+` FROM chat_sessions ORDER BY created_at, id`)
}

// ListSessionsByAgents returns sessions owned by any of the given agents.
func (r *SQLRepository) ListSessionsByAgents(ctx context.Context, agentIDs []string) ([]*domain.ChatSession, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE agent_id IN (` +
		placeholders(len(agentIDs)) + `) ORDER BY created_at, id`

	return r.querySessions(ctx, query, stringArgs(agentIDs)...)
}

func (r *SQLRepository) querySessions(ctx context.Context, query string, args ...any) ([]*domain.ChatSession, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// AssignSession hands a session to an agent. An empty agentID unassigns it.
func (r *SQLRepository) AssignSession(ctx context.Context, sessionID string, agentID string) error {
	query := `UPDATE chat_sessions SET agent_id = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), agentID, time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := row.Scan(
		&s.ID, &s.CustomerName, &s.CustomerEmail, &s.AgentID,
		&s.Status, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddMessage appends a message to the end of a session transcript.
func (r *SQLRepository) AddMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" || msg.SessionID == "" {
		return fmt.Errorf("%w: message id and session id are required", ErrInvalidInput)
	}
	if !msg.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidInput, msg.Sender)
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	return withSeqRetry(messageSeqIndex, func() error {
		return r.appendMessage(ctx, msg, now)
	})
}

func (r *SQLRepository) appendMessage(ctx context.Context, msg *domain.Message, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	touch, err := tx.ExecContext(ctx, r.rebind(`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`), now, msg.SessionID)
	if err != nil {
		return err
	}
	if err := expectAffected(touch); err != nil {
		return err
	}

	query := `
		INSERT INTO chat_messages (id, seq, session_id, sender, text, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE session_id = ?), ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		msg.ID, msg.SessionID, msg.SessionID, string(msg.Sender), msg.Text, msg.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ListMessages returns a session transcript in posting order.
func (r *SQLRepository) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, sender, text, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender string
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = domain.Sender(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}
