// Package scoring reads transcripts, rules and assignments from the store and
// runs them through the rule engine and the roll-up.
package scoring

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rollup"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// scoreConcurrency bounds how many transcripts are loaded and scored at once.
const scoreConcurrency = 8

// Entity kinds for roll-up scores.
const (
	KindAgent = "agent"
	KindTeam  = "team"
)

// Service computes lead and performance scores on demand. It holds no
// scores of its own; every call reads the current active rules.
type Service struct {
	repo       domain.Repository
	engine     *rules.Engine
	aggregator *rollup.Aggregator
	highValue  int
}

// NewService creates a scoring service.
func NewService(repo domain.Repository, engine *rules.Engine, aggregator *rollup.Aggregator, highValue int) *Service {
	if highValue <= 0 {
		highValue = rules.HighValueLeadCount
	}
	return &Service{
		repo:       repo,
		engine:     engine,
		aggregator: aggregator,
		highValue:  highValue,
	}
}

// Engine returns the rule engine used by the service.
func (s *Service) Engine() *rules.Engine {
	return s.engine
}

// SessionScore is the lead score of one chat session.
type SessionScore struct {
	SessionID    string             `json:"sessionId"`
	AgentID      string             `json:"agentId,omitempty"`
	CustomerName string             `json:"customerName"`
	Score        float64            `json:"score"`
	IsLead       bool               `json:"isLead"`
	Result       *rules.ScoreResult `json:"result"`
}

// SessionScore scores a single session against the live rule set.
func (s *Service) SessionScore(ctx context.Context, sessionID string) (*SessionScore, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	result, err := s.scoreSession(ctx, session, active)
	if err != nil {
		return nil, err
	}

	return &SessionScore{
		SessionID:    session.ID,
		AgentID:      session.AgentID,
		CustomerName: session.CustomerName,
		Score:        result.Score,
		IsLead:       result.IsLead,
		Result:       result,
	}, nil
}

func (s *Service) scoreSession(ctx context.Context, session *domain.ChatSession, active []*domain.Rule) (*rules.ScoreResult, error) {
	msgs, err := s.repo.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript %s: %w", session.ID, err)
	}

	return s.engine.Score(ctx, &rules.ScoreInput{
		SessionID:     session.ID,
		SessionStatus: session.Status,
		Messages:      msgs,
	}, active), nil
}

// scoreSessions scores every session against the same rule snapshot. Results
// are index-aligned with sessions.
func (s *Service) scoreSessions(ctx context.Context, sessions []*domain.ChatSession, active []*domain.Rule) ([]*rules.ScoreResult, error) {
	results := make([]*rules.ScoreResult, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)

	for i, session := range sessions {
		i, session := i, session
		g.Go(func() error {
			result, err := s.scoreSession(gctx, session, active)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// LeadQuery selects sessions for the lead list.
type LeadQuery struct {
	Limit      int
	ActiveOnly bool
	AgentID    string
}

// RankLeads scores sessions with one rule snapshot and returns them ranked by
// descending score. ActiveOnly drops non-leads before Limit is applied.
func (s *Service) RankLeads(ctx context.Context, q LeadQuery) ([]rules.ScoredSession, error) {
	var sessions []*domain.ChatSession
	var err error
	if q.AgentID != "" {
		sessions, err = s.repo.ListSessionsByAgents(ctx, []string{q.AgentID})
	} else {
		sessions, err = s.repo.ListSessions(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	active, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	results, err := s.scoreSessions(ctx, sessions, active)
	if err != nil {
		return nil, err
	}

	scored := make([]rules.ScoredSession, len(sessions))
	for i, session := range sessions {
		scored[i] = rules.NewScoredSession(session, results[i].Score)
	}

	ranked := rules.RankSessions(scored)
	if q.ActiveOnly {
		ranked = rules.ActiveLeads(ranked)
	}
	return rules.TopN(ranked, q.Limit), nil
}

// TopLeads returns the high value leads panel.
func (s *Service) TopLeads(ctx context.Context) ([]rules.ScoredSession, error) {
	return s.RankLeads(ctx, LeadQuery{Limit: s.highValue, ActiveOnly: true})
}

// Preview scores ad-hoc visitor messages against the live rules without
// storing anything.
func (s *Service) Preview(ctx context.Context, messages []string) (*rules.ScoreResult, error) {
	active, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	msgs := make([]domain.Message, len(messages))
	for i, text := range messages {
		msgs[i] = domain.Message{Sender: domain.SenderVisitor, Text: text}
	}

	return s.engine.Score(ctx, &rules.ScoreInput{Messages: msgs}, active), nil
}

// EntityScore is the roll-up score of an agent or a team.
type EntityScore struct {
	Kind     string   `json:"kind"`
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Found    bool     `json:"found"`
	Members  []string `json:"members,omitempty"`
	Score    float64  `json:"score"`
	rollup.Breakdown
}

// AgentScore rolls up one agent's inquiries and chats. An unknown agent
// scores zero.
func (s *Service) AgentScore(ctx context.Context, agentID string) (*EntityScore, error) {
	out := &EntityScore{Kind: KindAgent, ID: agentID}

	agent, err := s.repo.GetAgent(ctx, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Found = true
	out.Name = agent.Name

	if err := s.rollUp(ctx, []string{agent.ID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TeamScore rolls up the union of the current members' inquiries and chats.
// An unknown team scores zero.
func (s *Service) TeamScore(ctx context.Context, teamID string) (*EntityScore, error) {
	out := &EntityScore{Kind: KindTeam, ID: teamID}

	team, err := s.repo.GetTeam(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Found = true
	out.Name = team.Name

	members, err := s.repo.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	out.Members = ids

	if err := s.rollUp(ctx, ids, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) rollUp(ctx context.Context, agentIDs []string, out *EntityScore) error {
	if len(agentIDs) == 0 {
		return nil
	}

	inquiries, err := s.repo.ListInquiriesByAgents(ctx, agentIDs)
	if err != nil {
		return fmt.Errorf("failed to list inquiries: %w", err)
	}

	sessions, err := s.repo.ListSessionsByAgents(ctx, agentIDs)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var chats []rollup.ChatScore
	if len(sessions) > 0 {
		active, err := s.repo.ListActiveRules(ctx)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		results, err := s.scoreSessions(ctx, sessions, active)
		if err != nil {
			return err
		}
		for i, session := range sessions {
			chats = append(chats, rollup.ChatScore{SessionID: session.ID, LeadScore: results[i].Score})
		}
	}

	out.Breakdown = s.aggregator.Aggregate(inquiries, chats)
	out.Score = out.Breakdown.Total
	return nil
}
