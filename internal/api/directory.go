package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	inquiryTypes    = []string{domain.InquirySales, domain.InquirySupport, domain.InquiryProduct}
	inquiryStatuses = []string{domain.StatusNew, domain.StatusInProgress, domain.StatusUrgent, domain.StatusResolved}
)

// canonical returns the entry of allowed matching v case-insensitively.
func canonical(v string, allowed []string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a, true
		}
	}
	return "", false
}

// CreateInquiryRequest is the request body for POST /inquiries.
type CreateInquiryRequest struct {
	ID          string `json:"id,omitempty" validate:"max=100"`
	Customer    string `json:"customer" validate:"required,max=200"`
	Type        string `json:"type" validate:"required"`
	Status      string `json:"status,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
	Description string `json:"description,omitempty" validate:"max=5000"`
}

// CreateInquiry stores a support inquiry.
func (h *Handler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateInquiryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inquiryType, ok := canonical(req.Type, inquiryTypes)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be one of "+strings.Join(inquiryTypes, ", "))
		return
	}

	status := domain.StatusNew
	if req.Status != "" {
		if status, ok = canonical(req.Status, inquiryStatuses); !ok {
			writeError(w, http.StatusBadRequest, "status must be one of "+strings.Join(inquiryStatuses, ", "))
			return
		}
	}

	if req.AgentID != "" {
		if _, err := h.repo.GetAgent(ctx, req.AgentID); err != nil {
			writeStoreError(w, err, "agent")
			return
		}
	}

	inquiry := &domain.Inquiry{
		ID:          strings.TrimSpace(req.ID),
		Customer:    strings.TrimSpace(req.Customer),
		Type:        inquiryType,
		Status:      status,
		AgentID:     req.AgentID,
		Description: req.Description,
	}
	if inquiry.ID == "" {
		inquiry.ID = uuid.New().String()
	}

	if err := h.repo.CreateInquiry(ctx, inquiry); err != nil {
		writeStoreError(w, err, "inquiry")
		return
	}
	writeJSON(w, http.StatusCreated, inquiry)
}

// ListInquiries returns inquiries, optionally only those of one agent.
func (h *Handler) ListInquiries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		list []*domain.Inquiry
		err  error
	)
	if agentID := r.URL.Query().Get("agent"); agentID != "" {
		list, err = h.repo.ListInquiriesByAgents(ctx, []string{agentID})
	} else {
		list, err = h.repo.ListInquiries(ctx)
	}
	if err != nil {
		writeStoreError(w, err, "inquiries")
		return
	}
	if list == nil {
		list = []*domain.Inquiry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inquiries": list,
		"count":     len(list),
	})
}

// StatusRequest is the request body for PUT /inquiries/{id}/status.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateInquiryStatus moves an inquiry to a new status.
func (h *Handler) UpdateInquiryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status, ok := canonical(req.Status, inquiryStatuses)
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be one of "+strings.Join(inquiryStatuses, ", "))
		return
	}

	if err := h.repo.UpdateInquiryStatus(ctx, inquiryID, status); err != nil {
		writeStoreError(w, err, "inquiry")
		return
	}

	inquiry, err := h.repo.GetInquiry(ctx, inquiryID)
	if err != nil {
		writeStoreError(w, err, "inquiry")
		return
	}
	writeJSON(w, http.StatusOK, inquiry)
}

// CreateAgentRequest is the request body for POST /agents.
type CreateAgentRequest struct {
	ID       string `json:"id,omitempty" validate:"max=100"`
	Username string `json:"username" validate:"required,max=100"`
	Name     string `json:"name" validate:"max=200"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=agent admin super_admin ultra_admin"`
}

// CreateAgent stores an agent account.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent := &domain.Agent{
		ID:       strings.TrimSpace(req.ID),
		Username: strings.TrimSpace(req.Username),
		Name:     strings.TrimSpace(req.Name),
		Role:     req.Role,
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
		writeStoreError(w, err, "agent")
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// ListAgents returns every agent account.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListAgents(r.Context())
	if err != nil {
		writeStoreError(w, err, "agents")
		return
	}
	if list == nil {
		list = []*domain.Agent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": list,
		"count":  len(list),
	})
}

// GetAgent retrieves an agent by ID.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.repo.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// AgentScore returns an agent's performance roll-up. Unknown agents score zero.
func (h *Handler) AgentScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.scoring.AgentScore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// CreateTeamRequest is the request body for POST /teams.
type CreateTeamRequest struct {
	ID          string `json:"id,omitempty" validate:"max=100"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	Tag         string `json:"tag,omitempty" validate:"max=50"`
	Department  string `json:"department,omitempty" validate:"max=100"`
}

// CreateTeam stores a team.
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	team := &domain.Team{
		ID:          strings.TrimSpace(req.ID),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Tag:         req.Tag,
		Department:  req.Department,
	}
	if team.ID == "" {
		team.ID = uuid.New().String()
	}

	if err := h.repo.CreateTeam(r.Context(), team); err != nil {
		writeStoreError(w, err, "team")
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// GetTeam returns a team with its current members.
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := chi.URLParam(r, "id")

	team, err := h.repo.GetTeam(ctx, teamID)
	if err != nil {
		writeStoreError(w, err, "team")
		return
	}

	members, err := h.repo.ListTeamMembers(ctx, teamID)
	if err != nil {
		writeStoreError(w, err, "team members")
		return
	}
	if members == nil {
		members = []*domain.Agent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"team":    team,
		"members": members,
	})
}

// MembershipRequest is the request body for PUT /teams/{id}/members/{agentID}.
type MembershipRequest struct {
	Role string `json:"role,omitempty" validate:"omitempty,oneof=leader member"`
}

// SetTeamMember adds an agent to a team or changes its team role. Promoting
// a leader demotes the previous one.
func (h *Handler) SetTeamMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentID")

	var req MembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.repo.SetTeamMembership(ctx, teamID, agentID, req.Role); err != nil {
		writeStoreError(w, err, "team or agent")
		return
	}

	agent, err := h.repo.GetAgent(ctx, agentID)
	if err != nil {
		writeStoreError(w, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// RemoveTeamMember takes an agent out of a team.
func (h *Handler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.RemoveTeamMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "agentID")); err != nil {
		writeStoreError(w, err, "team member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "member removed",
	})
}

// TeamScore returns a team's performance roll-up over its current members.
func (h *Handler) TeamScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.scoring.TeamScore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "team")
		return
	}
	writeJSON(w, http.StatusOK, score)
}
