package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		raw  string
		want Operation
	}{
		{"+", OpAdd},
		{"-", OpSubtract},
		{"*", OpMultiply},
		{"/", OpDivide},
		{"Add (+)", OpAdd},
		{"Subtract (-)", OpSubtract},
		{"Multiply (*)", OpMultiply},
		{"Divide (/)", OpDivide},
		{"  * ", OpMultiply},
		{"add", OpUnknown},
		{"", OpUnknown},
		{"-/+", OpSubtract},
	}

	for _, tt := range tests {
		if got := ParseOperation(tt.raw); got != tt.want {
			t.Errorf("ParseOperation(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestOperationApply(t *testing.T) {
	tests := []struct {
		op    Operation
		score float64
		value float64
		want  float64
	}{
		{OpAdd, 1, 2, 3},
		{OpSubtract, 1, 2, -1},
		{OpMultiply, 3, 2, 6},
		{OpDivide, 3, 2, 1.5},
		{OpDivide, 3, 0, 3},
		{OpUnknown, 3, 100, 3},
	}

	for _, tt := range tests {
		if got := tt.op.Apply(tt.score, tt.value); got != tt.want {
			t.Errorf("%v.Apply(%v, %v) = %v, want %v", tt.op, tt.score, tt.value, got, tt.want)
		}
	}

	if OpUnknown.Valid() || !OpDivide.Valid() {
		t.Error("unexpected Valid() result")
	}
}

func TestIsLead(t *testing.T) {
	cases := map[float64]bool{
		10:    true,
		0.001: true,
		0:     false,
		-5:    false,
	}
	for score, want := range cases {
		if got := IsLead(score); got != want {
			t.Errorf("IsLead(%v) = %v, want %v", score, got, want)
		}
	}
}

func scored(id string, score float64) ScoredSession {
	return NewScoredSession(&domain.ChatSession{ID: id}, score)
}

func ids(sessions []ScoredSession) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.Session.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRankSessionsIsStable(t *testing.T) {
	input := []ScoredSession{scored("first", 5), scored("top", 10), scored("second", 5)}

	ranked := RankSessions(input)

	if want := []string{"top", "first", "second"}; !equalIDs(ids(ranked), want) {
		t.Errorf("got %v, want %v", ids(ranked), want)
	}
	if input[0].Session.ID != "first" {
		t.Error("RankSessions must not reorder its input")
	}
}

func TestTopNAndActiveLeads(t *testing.T) {
	ranked := RankSessions([]ScoredSession{
		scored("a", 0),
		scored("b", 12),
		scored("c", -3),
		scored("d", 4),
		scored("e", 7),
	})

	if got := ids(TopN(ranked, HighValueLeadCount)); !equalIDs(got, []string{"b", "e", "d"}) {
		t.Errorf("TopN = %v", got)
	}
	if got := TopN(ranked, 0); len(got) != 5 {
		t.Errorf("TopN(0) should return everything, got %d", len(got))
	}
	if got := TopN(ranked, 50); len(got) != 5 {
		t.Errorf("TopN(50) should return everything, got %d", len(got))
	}

	leads := ActiveLeads(ranked)
	if got := ids(leads); !equalIDs(got, []string{"b", "e", "d"}) {
		t.Errorf("ActiveLeads = %v", got)
	}
	for _, l := range leads {
		if !l.IsLead {
			t.Errorf("session %s should be flagged as lead", l.Session.ID)
		}
	}

	if got := ids(TopN(ActiveLeads(ranked), 2)); !equalIDs(got, []string{"b", "e"}) {
		t.Errorf("filter then truncate = %v", got)
	}
}
