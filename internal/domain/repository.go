// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Scoring rules
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	ListActiveRules(ctx context.Context) ([]*Rule, error)
	SetRuleActive(ctx context.Context, ruleID string, active bool) error
	DeleteRule(ctx context.Context, ruleID string) error

	// Chat sessions and transcripts
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, sessionID string) (*ChatSession, error)
	ListSessions(ctx context.Context) ([]*ChatSession, error)
	ListSessionsByAgents(ctx context.Context, agentIDs []string) ([]*ChatSession, error)
	AssignSession(ctx context.Context, sessionID string, agentID string) error
	AddMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	// Inquiries
	CreateInquiry(ctx context.Context, inquiry *Inquiry) error
	GetInquiry(ctx context.Context, inquiryID string) (*Inquiry, error)
	ListInquiries(ctx context.Context) ([]*Inquiry, error)
	ListInquiriesByAgents(ctx context.Context, agentIDs []string) ([]*Inquiry, error)
	UpdateInquiryStatus(ctx context.Context, inquiryID string, status string) error

	// Agents and teams
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, teamID string) (*Team, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]*Agent, error)
	SetTeamMembership(ctx context.Context, teamID string, agentID string, teamRole string) error
	RemoveTeamMember(ctx context.Context, teamID string, agentID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific. PostgresDSN, when set, overrides the fields below.
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
