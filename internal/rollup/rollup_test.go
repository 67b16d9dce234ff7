package rollup

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestInquiryPoints(t *testing.T) {
	agg := NewAggregator(DefaultPoints())

	tests := []struct {
		status string
		kind   string
		want   float64
	}{
		{domain.StatusNew, domain.InquirySales, 5},
		{domain.StatusInProgress, domain.InquirySupport, 5},
		{domain.StatusUrgent, domain.InquiryProduct, 8},
		{domain.StatusResolved, domain.InquirySales, 4},
		{"urgent", " sales ", 9},
		{"Escalated", domain.InquirySupport, 2},
		{domain.StatusUrgent, "Billing", 5},
		{"", "", 0},
	}

	for _, tt := range tests {
		q := &domain.Inquiry{ID: "q", Status: tt.status, Type: tt.kind}
		if got := agg.InquiryPoints(q); got != tt.want {
			t.Errorf("InquiryPoints(%q, %q) = %v, want %v", tt.status, tt.kind, got, tt.want)
		}
	}
}

func TestChatPoints(t *testing.T) {
	agg := NewAggregator(DefaultPoints())

	tests := []struct {
		lead float64
		want float64
	}{
		{0, 6},
		{-20, 6},
		{1, 7},
		{10, 7},
		{10.5, 8},
		{25, 9},
	}

	for _, tt := range tests {
		if got := agg.ChatPoints(tt.lead); got != tt.want {
			t.Errorf("ChatPoints(%v) = %v, want %v", tt.lead, got, tt.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(DefaultPoints())

	inquiries := []*domain.Inquiry{
		{ID: "q-1", Status: domain.StatusNew, Type: domain.InquirySales},
		{ID: "q-2", Status: domain.StatusUrgent, Type: domain.InquirySupport},
		{ID: "q-1", Status: domain.StatusNew, Type: domain.InquirySales},
		nil,
	}
	chats := []ChatScore{
		{SessionID: "s-1", LeadScore: 15},
		{SessionID: "s-2", LeadScore: 0},
		{SessionID: "s-1", LeadScore: 15},
	}

	b := agg.Aggregate(inquiries, chats)

	if b.Inquiries != 2 || b.Chats != 2 || b.Leads != 1 {
		t.Errorf("unexpected counts: %+v", b)
	}
	if b.InquiryPoints != 12 {
		t.Errorf("expected 12 inquiry points, got %v", b.InquiryPoints)
	}
	if b.ChatPoints != 14 {
		t.Errorf("expected 14 chat points, got %v", b.ChatPoints)
	}
	if b.Total != 26 {
		t.Errorf("expected total 26, got %v", b.Total)
	}

	if again := agg.Aggregate(inquiries, chats); again != b {
		t.Errorf("roll-up not repeatable: %+v vs %+v", again, b)
	}
}

func TestAggregateEmpty(t *testing.T) {
	b := NewAggregator(DefaultPoints()).Aggregate(nil, nil)
	if b != (Breakdown{}) {
		t.Errorf("expected zero breakdown, got %+v", b)
	}
}

func TestCustomPoints(t *testing.T) {
	points := DefaultPoints()
	points.ChatBase = 0
	points.LeadBonusDivisor = 0

	agg := NewAggregator(points)
	if got := agg.ChatPoints(50); got != 0 {
		t.Errorf("expected no chat points, got %v", got)
	}
}
