package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LeadThreshold is the score a session must exceed to count as a lead.
const LeadThreshold = 0.0

// HighValueLeadCount is the size of the "high value leads" panel.
const HighValueLeadCount = 3

// IsLead reports whether score marks a sales lead.
func IsLead(score float64) bool {
	return score > LeadThreshold
}

// ScoredSession pairs a chat session with its current lead score.
type ScoredSession struct {
	Session *domain.ChatSession `json:"session"`
	Score   float64             `json:"score"`
	IsLead  bool                `json:"isLead"`
}

// NewScoredSession wraps a session and its score.
func NewScoredSession(session *domain.ChatSession, score float64) ScoredSession {
	return ScoredSession{Session: session, Score: score, IsLead: IsLead(score)}
}

// RankSessions returns a copy of sessions ordered by descending score.
// Sessions with equal scores keep their input order.
func RankSessions(sessions []ScoredSession) []ScoredSession {
	ranked := make([]ScoredSession, len(sessions))
	copy(ranked, sessions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// TopN returns the first n ranked sessions. n <= 0 means all of them.
func TopN(ranked []ScoredSession, n int) []ScoredSession {
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

// ActiveLeads keeps only sessions that are leads, preserving order.
func ActiveLeads(ranked []ScoredSession) []ScoredSession {
	out := make([]ScoredSession, 0, len(ranked))
	for _, s := range ranked {
		if IsLead(s.Score) {
			out = append(out, s)
		}
	}
	return out
}
