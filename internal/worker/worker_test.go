package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

type stubScorer struct {
	mu     sync.Mutex
	scores map[string]float64
}

func (s *stubScorer) set(id string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[id] = score
}

func (s *stubScorer) SessionScore(ctx context.Context, id string) (*scoring.SessionScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &scoring.SessionScore{SessionID: id, AgentID: "a-1", CustomerName: "Ada", Score: score, IsLead: score > 0}, nil
}

func collectLeads(t *testing.T, b domain.EventBus) <-chan domain.LeadDetectedEvent {
	t.Helper()
	out := make(chan domain.LeadDetectedEvent, 10)
	_, err := b.Subscribe(context.Background(), domain.TopicLeadDetected, func(ctx context.Context, evt *domain.Event) error {
		var lead domain.LeadDetectedEvent
		if err := json.Unmarshal(evt.Payload, &lead); err != nil {
			return err
		}
		out <- lead
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return out
}

func TestWorkerStartStop(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, cache.NewLRUCache(10), &stubScorer{scores: map[string]float64{}}, time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestLeadDetectedOnce(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	scorer := &stubScorer{scores: map[string]float64{"s-1": 0}}
	markers := cache.NewLRUCache(10)
	w := NewWorker(eventBus, markers, scorer, time.Hour)
	leads := collectLeads(t, eventBus)

	if err := w.Check(ctx, "s-1"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	scorer.set("s-1", 12)
	for i := 0; i < 3; i++ {
		if err := w.Check(ctx, "s-1"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	select {
	case lead := <-leads:
		if lead.SessionID != "s-1" || lead.Score != 12 || lead.AgentID != "a-1" {
			t.Errorf("unexpected lead event: %+v", lead)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for lead event")
	}

	select {
	case lead := <-leads:
		t.Fatalf("lead announced twice: %+v", lead)
	case <-time.After(50 * time.Millisecond):
	}

	t.Run("ReannouncedAfterDrop", func(t *testing.T) {
		scorer.set("s-1", -3)
		if err := w.Check(ctx, "s-1"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if v, _ := markers.Get(ctx, "lead:s-1"); v != nil {
			t.Error("expected marker cleared")
		}

		scorer.set("s-1", 4)
		_ = w.Check(ctx, "s-1")
		select {
		case <-leads:
		case <-time.After(time.Second):
			t.Fatal("expected a second lead event after the score recovered")
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		if err := w.Check(ctx, "ghost"); err != nil {
			t.Errorf("unknown session should be ignored, got %v", err)
		}
	})
}

func TestLeadDetectedOnceAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote := cache.NewRedisCacheFromClient(client)
	defer remote.Close()

	scorer := &stubScorer{scores: map[string]float64{"s-3": 9}}
	replicas := []*Worker{
		NewWorker(eventBus, cache.NewTwoPhaseCache(cache.NewLRUCache(10), remote, time.Minute), scorer, time.Hour),
		NewWorker(eventBus, cache.NewTwoPhaseCache(cache.NewLRUCache(10), remote, time.Minute), scorer, time.Hour),
	}
	leads := collectLeads(t, eventBus)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replicas[i%2].Check(ctx, "s-3"); err != nil {
				t.Errorf("Check failed: %v", err)
			}
		}()
	}
	wg.Wait()

	select {
	case <-leads:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for lead event")
	}
	select {
	case lead := <-leads:
		t.Fatalf("lead announced twice: %+v", lead)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorkerConsumesMessageEvents(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	scorer := &stubScorer{scores: map[string]float64{"s-7": 30}}
	w := NewWorker(eventBus, cache.NewLRUCache(10), scorer, time.Hour)
	leads := collectLeads(t, eventBus)

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	_ = bus.PublishJSON(ctx, eventBus, domain.TopicMessagePosted,
		domain.MessagePostedEvent{SessionID: "s-7", MessageID: "m-1", Sender: domain.SenderAgent})

	select {
	case lead := <-leads:
		t.Fatalf("agent message must not trigger scoring: %+v", lead)
	case <-time.After(50 * time.Millisecond):
	}

	_ = bus.PublishJSON(ctx, eventBus, domain.TopicMessagePosted,
		domain.MessagePostedEvent{SessionID: "s-7", MessageID: "m-2", Sender: domain.SenderVisitor})

	select {
	case lead := <-leads:
		if lead.SessionID != "s-7" {
			t.Errorf("unexpected lead %+v", lead)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for lead event")
	}
}
