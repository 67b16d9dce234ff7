package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const inquiryColumns = `id, customer, inquiry_type, status, agent_id, description, created_at, updated_at`

// CreateInquiry stores a new inquiry.
func (r *SQLRepository) CreateInquiry(ctx context.Context, inquiry *domain.Inquiry) error {
	if inquiry.ID == "" {
		return fmt.Errorf("%w: inquiry id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if inquiry.CreatedAt.IsZero() {
		inquiry.CreatedAt = now
	}
	inquiry.UpdatedAt = now

	query := `INSERT INTO inquiries (` + inquiryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inquiry.ID, inquiry.Customer, inquiry.Type, inquiry.Status,
		inquiry.AgentID, inquiry.Description, inquiry.CreatedAt, inquiry.UpdatedAt,
	)
	return err
}

// GetInquiry retrieves an inquiry by ID.
func (r *SQLRepository) GetInquiry(ctx context.Context, inquiryID string) (*domain.Inquiry, error) {
	query := `SELECT ` + inquiryColumns + ` FROM inquiries WHERE id = ?`

	inquiry, err := scanInquiry(r.db.QueryRowContext(ctx, r.rebind(query), inquiryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inquiry, nil
}

// ListInquiries returns every inquiry, oldest first.
func (r *SQLRepository) ListInquiries(ctx context.Context) ([]*domain.Inquiry, error) {
	return r.queryInquiries(ctx, `SELECT `+inquiryColumns+` FROM inquiries ORDER BY created_at, id`)
}

// ListInquiriesByAgents returns inquiries assigned to any of the given agents.
func (r *SQLRepository) ListInquiriesByAgents(ctx context.Context, agentIDs []string) ([]*domain.Inquiry, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + inquiryColumns + ` FROM inquiries WHERE agent_id IN (` +
		placeholders(len(agentIDs)) + `) ORDER BY created_at, id`

	return r.queryInquiries(ctx, query, stringArgs(agentIDs)...)
}

func (r *SQLRepository) queryInquiries(ctx context.Context, query string, args ...any) ([]*domain.Inquiry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Inquiry
	for rows.Next() {
		inquiry, err := scanInquiry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inquiry)
	}
	return out, rows.Err()
}

// UpdateInquiryStatus moves an inquiry to a new status.
func (r *SQLRepository) UpdateInquiryStatus(ctx context.Context, inquiryID string, status string) error {
	query := `UPDATE inquiries SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), inquiryID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func scanInquiry(row rowScanner) (*domain.Inquiry, error) {
	var q domain.Inquiry
	if err := row.Scan(
		&q.ID, &q.Customer, &q.Type, &q.Status,
		&q.AgentID, &q.Description, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &q, nil
}

const agentColumns = `id, username, name, role, team_id, team_role, last_active, created_at`

// CreateAgent stores a new agent account.
func (r *SQLRepository) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" || agent.Username == "" {
		return fmt.Errorf("%w: agent id and username are required", ErrInvalidInput)
	}
	if agent.Role == "" {
		agent.Role = domain.RoleAgent
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	var lastActive sql.NullTime
	if agent.LastActive != nil {
		lastActive = sql.NullTime{Time: *agent.LastActive, Valid: true}
	}

	query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		agent.ID, agent.Username, agent.Name, agent.Role,
		agent.TeamID, agent.TeamRole, lastActive, agent.CreatedAt,
	)
	return err
}

// GetAgent retrieves an agent by ID.
func (r *SQLRepository) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`

	agent, err := scanAgent(r.db.QueryRowContext(ctx, r.rebind(query), agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents returns every agent ordered by username.
func (r *SQLRepository) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	return r.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY username`)
}

// ListTeamMembers returns the agents currently on a team.
func (r *SQLRepository) ListTeamMembers(ctx context.Context, teamID string) ([]*domain.Agent, error) {
	if teamID == "" {
		return nil, nil
	}
	return r.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE team_id = ? ORDER BY username`, teamID)
}

func (r *SQLRepository) queryAgents(ctx context.Context, query string, args ...any) ([]*domain.Agent, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var lastActive sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Username, &a.Name, &a.Role,
		&a.TeamID, &a.TeamRole, &lastActive, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastActive.Valid {
		t := lastActive.Time
		a.LastActive = &t
	}
	return &a, nil
}

// CreateTeam stores a new team.
func (r *SQLRepository) CreateTeam(ctx context.Context, team *domain.Team) error {
	if team.ID == "" || team.Name == "" {
		return fmt.Errorf("%w: team id and name are required", ErrInvalidInput)
	}
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO teams (id, name, description, tag, department, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		team.ID, team.Name, team.Description, team.Tag, team.Department, team.CreatedAt,
	)
	return err
}

// GetTeam retrieves a team by ID.
func (r *SQLRepository) GetTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	query := `SELECT id, name, description, tag, department, created_at FROM teams WHERE id = ?`

	var t domain.Team
	err := r.db.QueryRowContext(ctx, r.rebind(query), teamID).Scan(
		&t.ID, &t.Name, &t.Description, &t.Tag, &t.Department, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTeamMembership places an agent on a team. An agent belongs to at most
// one team, so this moves them if they were elsewhere. Promoting a leader
// demotes whoever led the team before.
func (r *SQLRepository) SetTeamMembership(ctx context.Context, teamID string, agentID string, teamRole string) error {
	switch teamRole {
	case "":
		teamRole = domain.TeamRoleMember
	case domain.TeamRoleMember, domain.TeamRoleLeader:
	default:
		return fmt.Errorf("%w: unknown team role %q", ErrInvalidInput, teamRole)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM teams WHERE id = ?`), teamID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if teamRole == domain.TeamRoleLeader {
		demote := `UPDATE agents SET team_role = ? WHERE team_id = ? AND team_role = ? AND id <> ?`
		if _, err := tx.ExecContext(ctx, r.rebind(demote),
			domain.TeamRoleMember, teamID, domain.TeamRoleLeader, agentID,
		); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE agents SET team_id = ?, team_role = ? WHERE id = ?`),
		teamID, teamRole, agentID,
	)
	if err != nil {
		return err
	}
	if err := expectAffected(result); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveTeamMember takes an agent off a team.
func (r *SQLRepository) RemoveTeamMember(ctx context.Context, teamID string, agentID string) error {
	query := `UPDATE agents SET team_id = '', team_role = '' WHERE id = ? AND team_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), agentID, teamID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}
