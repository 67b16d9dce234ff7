package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ruleScore accepts the rule magnitude as a JSON number or string.
type ruleScore string

func (s *ruleScore) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = ruleScore(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	*s = ruleScore(data)
	return nil
}

// RuleRequest is the request body for creating or updating a rule.
type RuleRequest struct {
	Name      string    `json:"name" validate:"required,max=200"`
	Keywords  string    `json:"keywords" validate:"required,max=2000"`
	Score     ruleScore `json:"score"`
	Operation string    `json:"operation" validate:"required,max=50"`
	Active    *bool     `json:"active"`
	Condition string    `json:"condition,omitempty" validate:"max=2000"`
}

var errScoreNotInteger = errors.New("score must be an integer")

// normalize checks the request and returns the canonical stored score.
func (req *RuleRequest) normalize(engine *rules.Engine) (string, error) {
	if len(domain.SplitKeywords(req.Keywords)) == 0 {
		return "", errors.New("keywords must contain at least one keyword")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(req.Score)), 10, 64)
	if err != nil {
		return "", errScoreNotInteger
	}

	if !rules.ParseOperation(req.Operation).Valid() {
		return "", errors.New("operation must be one of +, -, *, /")
	}

	if err := engine.ValidateCondition(req.Condition); err != nil {
		return "", err
	}

	return strconv.FormatInt(n, 10), nil
}

// ListRules returns every rule in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListRules(r.Context())
	if err != nil {
		writeStoreError(w, err, "rules")
		return
	}
	if list == nil {
		list = []*domain.Rule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule appends a rule to the end of the evaluation order. It takes
// effect on the next score computed.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	value, err := req.normalize(h.scoring.Engine())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := &domain.Rule{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		Keywords:  strings.TrimSpace(req.Keywords),
		Value:     value,
		Operation: strings.TrimSpace(req.Operation),
		Active:    req.Active == nil || *req.Active,
		Condition: strings.TrimSpace(req.Condition),
	}

	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	h.publish(r, domain.TopicRuleChanged, domain.RuleChangedEvent{RuleID: rule.ID, Action: "created"})
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule's fields. Its position in the evaluation order is
// kept; an omitted active flag leaves the current one.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, err := h.repo.GetRule(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	value, err := req.normalize(h.scoring.Engine())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule.Name = strings.TrimSpace(req.Name)
	rule.Keywords = strings.TrimSpace(req.Keywords)
	rule.Value = value
	rule.Operation = strings.TrimSpace(req.Operation)
	rule.Condition = strings.TrimSpace(req.Condition)
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := h.repo.UpdateRule(ctx, rule); err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	h.publish(r, domain.TopicRuleChanged, domain.RuleChangedEvent{RuleID: rule.ID, Action: "updated"})
	writeJSON(w, http.StatusOK, rule)
}

// ToggleRequest is the request body for POST /rules/{id}/toggle.
type ToggleRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ToggleRule activates or deactivates a rule.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	var req ToggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.repo.SetRuleActive(ctx, ruleID, *req.Active); err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	rule, err := h.repo.GetRule(ctx, ruleID)
	if err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	h.publish(r, domain.TopicRuleChanged, domain.RuleChangedEvent{RuleID: ruleID, Action: "toggled"})
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule permanently.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(r.Context(), ruleID); err != nil {
		writeStoreError(w, err, "rule")
		return
	}

	h.publish(r, domain.TopicRuleChanged, domain.RuleChangedEvent{RuleID: ruleID, Action: "deleted"})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// PreviewRequest is the request body for POST /rules/preview.
type PreviewRequest struct {
	Messages []string `json:"messages" validate:"max=500"`
}

// PreviewRules scores ad-hoc visitor messages against the live rules.
func (h *Handler) PreviewRules(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.scoring.Preview(r.Context(), req.Messages)
	if err != nil {
		writeStoreError(w, err, "rules")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
