package api

import (
	"net/http"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// ListLeads ranks chat sessions by lead score.
//
//	GET /leads?limit=N&active=true&agent=ID
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var query scoring.LeadQuery

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}

	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		query.ActiveOnly = b
	}

	query.AgentID = q.Get("agent")

	leads, err := h.scoring.RankLeads(r.Context(), query)
	if err != nil {
		writeStoreError(w, err, "leads")
		return
	}
	writeLeads(w, leads)
}

// TopLeads returns the high value leads panel.
func (h *Handler) TopLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := h.scoring.TopLeads(r.Context())
	if err != nil {
		writeStoreError(w, err, "leads")
		return
	}
	writeLeads(w, leads)
}

func writeLeads(w http.ResponseWriter, leads []rules.ScoredSession) {
	if leads == nil {
		leads = []rules.ScoredSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leads": leads,
		"count": len(leads),
	})
}
