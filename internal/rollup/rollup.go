// Package rollup combines inquiry and chat activity into agent and team
// performance scores.
package rollup

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PointTable holds the product constants of the roll-up. Dashboards depend
// on these exact values.
type PointTable struct {
	Status           map[string]float64 `json:"status"`
	Type             map[string]float64 `json:"type"`
	ChatBase         float64            `json:"chatBase"`
	LeadBonusDivisor float64            `json:"leadBonusDivisor"`
}

// DefaultPoints returns the standard point table.
func DefaultPoints() PointTable {
	return PointTable{
		Status: map[string]float64{
			domain.StatusNew:        1,
			domain.StatusInProgress: 3,
			domain.StatusUrgent:     5,
			domain.StatusResolved:   0,
		},
		Type: map[string]float64{
			domain.InquirySales:   4,
			domain.InquirySupport: 2,
			domain.InquiryProduct: 3,
		},
		ChatBase:         6,
		LeadBonusDivisor: 10,
	}
}

// ChatScore is a chat session's current lead score.
type ChatScore struct {
	SessionID string  `json:"sessionId"`
	LeadScore float64 `json:"leadScore"`
}

// Breakdown is a roll-up result with its parts.
type Breakdown struct {
	InquiryPoints float64 `json:"inquiryPoints"`
	ChatPoints    float64 `json:"chatPoints"`
	Total         float64 `json:"total"`
	Inquiries     int     `json:"inquiries"`
	Chats         int     `json:"chats"`
	Leads         int     `json:"leads"`
}

// Aggregator computes roll-up scores from a point table.
type Aggregator struct {
	points PointTable
	status map[string]float64
	kind   map[string]float64
}

// NewAggregator creates an aggregator. Table keys are matched
// case-insensitively.
func NewAggregator(points PointTable) *Aggregator {
	return &Aggregator{
		points: points,
		status: normalizeKeys(points.Status),
		kind:   normalizeKeys(points.Type),
	}
}

// Points returns the table the aggregator was built with.
func (a *Aggregator) Points() PointTable {
	return a.points
}

// Aggregate sums inquiry and chat points. Inputs are de-duplicated by ID so a
// team union never counts the same record twice.
func (a *Aggregator) Aggregate(inquiries []*domain.Inquiry, chats []ChatScore) Breakdown {
	var b Breakdown

	seenInquiries := make(map[string]struct{}, len(inquiries))
	for _, q := range inquiries {
		if q == nil {
			continue
		}
		if _, dup := seenInquiries[q.ID]; dup {
			continue
		}
		seenInquiries[q.ID] = struct{}{}

		b.InquiryPoints += a.InquiryPoints(q)
		b.Inquiries++
	}

	seenChats := make(map[string]struct{}, len(chats))
	for _, c := range chats {
		if _, dup := seenChats[c.SessionID]; dup {
			continue
		}
		seenChats[c.SessionID] = struct{}{}

		b.ChatPoints += a.ChatPoints(c.LeadScore)
		b.Chats++
		if c.LeadScore > 0 {
			b.Leads++
		}
	}

	b.Total = b.InquiryPoints + b.ChatPoints
	return b
}

// InquiryPoints scores one inquiry from its status and type. Unknown values
// contribute nothing.
func (a *Aggregator) InquiryPoints(q *domain.Inquiry) float64 {
	return a.status[normalize(q.Status)] + a.kind[normalize(q.Type)]
}

// ChatPoints scores one chat: the flat base plus a bonus for lead sessions.
func (a *Aggregator) ChatPoints(leadScore float64) float64 {
	points := a.points.ChatBase
	if leadScore > 0 && a.points.LeadBonusDivisor > 0 {
		points += math.Ceil(leadScore / a.points.LeadBonusDivisor)
	}
	return points
}

func normalizeKeys(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[normalize(k)] = v
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
