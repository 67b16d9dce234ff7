// Package rules implements keyword lead scoring: the rule fold, the
// optional CEL guards and lead classification.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	ErrInvalidValue = errors.New("rule value is not a finite number")
	ErrCondition    = errors.New("rule condition failed")
	ErrRulePanic    = errors.New("rule evaluation panicked")
	ErrNonFinite    = errors.New("rule result is not a finite number")
)

var tracer = otel.Tracer("kestrel-scoring")

// Engine folds scoring rules over chat transcripts. It keeps no rule state
// between calls; only recently used CEL conditions stay compiled, keyed by
// expression text.
type Engine struct {
	env      *cel.Env
	programs *programCache
}

// NewEngine creates a scoring engine with the condition environment ready.
func NewEngine() (*Engine, error) {
	env, err := newConditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: newProgramCache(maxCompiledConditions),
	}, nil
}

// ScoreInput is the transcript being scored.
type ScoreInput struct {
	SessionID     string
	SessionStatus string
	Messages      []domain.Message
}

// RuleHit records one rule that fired and what it did to the score.
type RuleHit struct {
	RuleID    string  `json:"ruleId"`
	Name      string  `json:"name"`
	Operation string  `json:"operation"`
	Value     float64 `json:"value"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
}

// RuleSkip records a rule dropped from the fold because it could not be evaluated.
type RuleSkip struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
	err    error
}

// Err returns the underlying evaluation error.
func (s RuleSkip) Err() error { return s.err }

// ScoreResult is the outcome of one scoring pass.
type ScoreResult struct {
	Score          float64    `json:"score"`
	IsLead         bool       `json:"isLead"`
	Fired          []RuleHit  `json:"fired"`
	Skipped        []RuleSkip `json:"skipped,omitempty"`
	RulesEvaluated int        `json:"rulesEvaluated"`
}

// Score folds rules over the customer-authored part of the transcript.
// Rules are applied in the order given; inactive ones are ignored. A rule that
// cannot be evaluated is skipped and the pass continues, so Score never fails.
func (e *Engine) Score(ctx context.Context, in *ScoreInput, rules []*domain.Rule) *ScoreResult {
	_, span := tracer.Start(ctx, "rules.Score")
	defer span.End()

	start := time.Now()

	vars := transcriptVars(in)
	result := e.fold(vars, rules)

	for _, skip := range result.Skipped {
		slog.Debug("scoring rule skipped",
			"rule_id", skip.RuleID,
			"session_id", in.SessionID,
			"reason", skip.Reason,
			"error", skip.err,
		)
		metrics.RecordRuleSkipped(skip.Reason)
	}
	metrics.RecordScoring(len(result.Fired), time.Since(start))

	span.SetAttributes(
		attribute.String("session.id", in.SessionID),
		attribute.Float64("score", result.Score),
		attribute.Int("rules.evaluated", result.RulesEvaluated),
		attribute.Int("rules.fired", len(result.Fired)),
		attribute.Int("rules.skipped", len(result.Skipped)),
	)

	return result
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     *Engine
)

// ComputeScore returns the lead score of a transcript given as plain
// customer message texts. It is the side-effect free form of Engine.Score.
func ComputeScore(customerMessages []string, rules []*domain.Rule) float64 {
	defaultEngineOnce.Do(func() {
		e, err := NewEngine()
		if err != nil {
			// Without an environment every conditional rule is skipped.
			e = &Engine{programs: newProgramCache(maxCompiledConditions)}
		}
		defaultEngine = e
	})

	vars := conditionVars{
		text:          buildCorpus(customerMessages),
		messageCount:  len(customerMessages),
		totalMessages: len(customerMessages),
	}
	return defaultEngine.fold(vars, rules).Score
}

func (e *Engine) fold(vars conditionVars, rules []*domain.Rule) *ScoreResult {
	result := &ScoreResult{Fired: []RuleHit{}}

	score := 0.0
	for _, rule := range rules {
		if rule == nil || !rule.Active {
			continue
		}
		result.RulesEvaluated++

		next, fired, value, err := e.evaluateRule(rule, score, vars)
		if err != nil {
			result.Skipped = append(result.Skipped, RuleSkip{
				RuleID: rule.ID,
				Reason: skipReason(err),
				err:    err,
			})
			continue
		}
		if !fired {
			continue
		}

		result.Fired = append(result.Fired, RuleHit{
			RuleID:    rule.ID,
			Name:      rule.Name,
			Operation: ParseOperation(rule.Operation).String(),
			Value:     value,
			Before:    score,
			After:     next,
		})
		score = next
	}

	result.Score = score
	result.IsLead = IsLead(score)
	return result
}

// evaluateRule applies a single rule to score. It reports whether the rule
// fired; on error the caller must leave score as it was.
func (e *Engine) evaluateRule(rule *domain.Rule, score float64, vars conditionVars) (next float64, fired bool, value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, fired, value, err = score, false, 0, fmt.Errorf("%w: %v", ErrRulePanic, r)
		}
	}()

	keywords := rule.KeywordSet()
	if len(keywords) == 0 {
		return score, false, 0, nil
	}

	value, err = ParseValue(rule.Value)
	if err != nil {
		return score, false, 0, err
	}

	if !matchesAny(vars.text, keywords) {
		return score, false, value, nil
	}

	if rule.Condition != "" {
		ok, err := e.checkCondition(rule.Condition, vars)
		if err != nil {
			return score, false, value, err
		}
		if !ok {
			return score, false, value, nil
		}
	}

	next = ParseOperation(rule.Operation).Apply(score, value)
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return score, false, value, fmt.Errorf("%w: %v %s %v", ErrNonFinite, score, rule.Operation, value)
	}
	return next, true, value, nil
}

// ParseValue reads a stored rule magnitude.
func ParseValue(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	return v, nil
}

func matchesAny(corpus string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(corpus, kw) {
			return true
		}
	}
	return false
}

// CustomerCorpus builds the matching text for a transcript: visitor messages
// only, lower-cased, joined by a single space.
func CustomerCorpus(messages []domain.Message) string {
	return buildCorpus(domain.CustomerTexts(messages))
}

func buildCorpus(texts []string) string {
	return strings.ToLower(strings.Join(texts, " "))
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrCondition):
		return "condition"
	case errors.Is(err, ErrRulePanic):
		return "panic"
	case errors.Is(err, ErrNonFinite):
		return "non_finite"
	default:
		return "error"
	}
}
