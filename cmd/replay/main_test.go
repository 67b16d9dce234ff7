package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

const sampleCSV = `session_id,sender,text,is_lead
s-1,visitor,Hi there,0
s-1,agent,How can I help?,0
s-1,visitor,What is your pricing?,1
s-2,visitor,My login is broken,0
s-2,bot,Have you tried resetting?,0
bad,row
s-3,agent,Are you still there?,false
`

func TestReadTranscripts(t *testing.T) {
	got, err := readTranscripts(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("readTranscripts failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 transcripts, got %d", len(got))
	}
	if got[0].SessionID != "s-1" || !got[0].IsLead || len(got[0].Messages) != 2 {
		t.Errorf("unexpected first transcript %+v", got[0])
	}
	if got[1].IsLead || len(got[1].Messages) != 1 {
		t.Errorf("unexpected second transcript %+v", got[1])
	}
	if len(got[2].Messages) != 0 {
		t.Errorf("agent-only transcript should have no messages, got %v", got[2].Messages)
	}

	if _, err := readTranscripts(strings.NewReader("session_id,text\n")); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestRunReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		lead := strings.Contains(strings.ToLower(strings.Join(req.Messages, " ")), "pricing")
		score := 0.0
		if lead {
			score = 10
		}
		json.NewEncoder(w).Encode(map[string]any{"score": score, "isLead": lead})
	}))
	defer srv.Close()

	transcripts := []*Transcript{
		{SessionID: "tp", Messages: []string{"pricing?"}, IsLead: true},
		{SessionID: "fn", Messages: []string{"buy"}, IsLead: true},
		{SessionID: "fp", Messages: []string{"pricing is bad"}, IsLead: false},
		{SessionID: "tn", Messages: []string{"hello"}, IsLead: false},
		{SessionID: "tn2", IsLead: false},
	}

	m := runReplay(transcripts, srv.URL, 3, newLimiter(0), false)

	if m.TruePositives != 1 || m.FalseNegatives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 2 {
		t.Errorf("unexpected confusion matrix %+v", m)
	}
	if m.Precision() != 0.5 || m.Recall() != 0.5 || m.F1() != 0.5 {
		t.Errorf("unexpected metrics p=%v r=%v f1=%v", m.Precision(), m.Recall(), m.F1())
	}
}

func TestMetricsEmpty(t *testing.T) {
	var m Metrics
	if m.Precision() != 0 || m.Recall() != 0 || m.F1() != 0 {
		t.Error("expected zero metrics with no results")
	}
}

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(0); l.Limit() != rate.Inf {
		t.Errorf("expected unlimited pacing, got %v", l.Limit())
	}

	l := newLimiter(0.5)
	if l.Limit() != 0.5 || l.Burst() != 1 {
		t.Errorf("unexpected limiter limit=%v burst=%d", l.Limit(), l.Burst())
	}
	if !l.Allow() {
		t.Error("first request should pass")
	}
	if l.Allow() {
		t.Error("second request should wait for the next token")
	}
}
