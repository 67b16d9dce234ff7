// Package worker rescores chat sessions as messages arrive and announces new
// leads on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// SessionScorer scores a stored chat session.
type SessionScorer interface {
	SessionScore(ctx context.Context, sessionID string) (*scoring.SessionScore, error)
}

// Worker listens for posted chat messages. When a session first scores as a
// lead it publishes a lead event; a cache marker keeps that to once per
// session until the score drops back to zero or below.
type Worker struct {
	bus       domain.EventBus
	cache     domain.Cache
	scorer    SessionScorer
	markerTTL time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a lead detection worker.
func NewWorker(eventBus domain.EventBus, cache domain.Cache, scorer SessionScorer, markerTTL time.Duration) *Worker {
	if markerTTL <= 0 {
		markerTTL = 7 * 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		cache:     cache,
		scorer:    scorer,
		markerTTL: markerTTL,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to message and rule events.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	handlers := map[string]domain.MessageHandler{
		domain.TopicMessagePosted: w.handleMessagePosted,
		domain.TopicRuleChanged:   w.handleRuleChanged,
	}

	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, topic, handler)
		if err != nil {
			for _, s := range w.subscriptions {
				_ = s.Unsubscribe()
			}
			w.subscriptions = nil
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("lead worker started", "subscriptions", len(w.subscriptions))
	return nil
}

func (w *Worker) handleMessagePosted(ctx context.Context, evt *domain.Event) error {
	var posted domain.MessagePostedEvent
	if err := json.Unmarshal(evt.Payload, &posted); err != nil {
		return err
	}

	// Only visitor text moves the score.
	if !posted.Sender.IsCustomer() {
		return nil
	}

	return w.Check(ctx, posted.SessionID)
}

// Check rescores a session and publishes a lead event if it just became a lead.
func (w *Worker) Check(ctx context.Context, sessionID string) error {
	start := time.Now()

	score, err := w.scorer.SessionScore(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("message event for unknown session", "session_id", sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	key := "lead:" + sessionID

	if !score.IsLead {
		return w.cache.Delete(ctx, key)
	}

	claimed, err := w.cache.SetIfAbsent(ctx, key, []byte(strconv.FormatFloat(score.Score, 'f', -1, 64)), w.markerTTL)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	detected := domain.LeadDetectedEvent{
		SessionID:    score.SessionID,
		AgentID:      score.AgentID,
		CustomerName: score.CustomerName,
		Score:        score.Score,
		DetectedAt:   time.Now().UTC().Unix(),
	}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicLeadDetected, detected); err != nil {
		_ = w.cache.Delete(ctx, key)
		return err
	}
	metrics.RecordLeadDetected()

	slog.Info("lead detected",
		"session_id", sessionID,
		"agent_id", score.AgentID,
		"score", score.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleRuleChanged(ctx context.Context, evt *domain.Event) error {
	var changed domain.RuleChangedEvent
	if err := json.Unmarshal(evt.Payload, &changed); err != nil {
		return err
	}
	slog.Info("scoring rules changed", "rule_id", changed.RuleID, "action", changed.Action)
	return nil
}

// Stop unsubscribes from the bus.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("lead worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
