package domain

import (
	"strings"
	"time"
)

// Rule is an admin-configured keyword trigger plus an arithmetic adjustment
// applied to a chat session's lead score.
type Rule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Keywords is the comma-joined trigger list exactly as entered.
	Keywords string `json:"keywords"`

	// Value is the raw magnitude. Rows written through the API always hold an
	// integer, older imports may not.
	Value string `json:"score"`

	// Operation holds the stored operator, either symbolic ("+") or verbose ("Add (+)").
	Operation string `json:"operation"`

	Active bool `json:"active"`

	// Condition is an optional CEL guard evaluated after the keywords match.
	Condition string `json:"condition,omitempty"`

	// Seq is the insertion order. Rules are folded in this order.
	Seq int64 `json:"seq"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KeywordSet splits Keywords into trimmed, lower-cased, non-empty tokens.
// Duplicates are dropped; first-seen order is kept.
func (r *Rule) KeywordSet() []string {
	return SplitKeywords(r.Keywords)
}

// SplitKeywords tokenizes a comma-joined keyword list.
func SplitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		kw := strings.ToLower(strings.TrimSpace(p))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// JoinKeywords renders a keyword set in its stored form.
func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, ", ")
}
