package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/bus"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/evaluator"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/rules"
)

func newTestPipeline(t *testing.T, eventBus domain.EventBus, ruleSet ...*domain.Rule) *evaluator.Pipeline {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	engine.LoadRules(ruleSet)

	ev := evaluator.New(repo, engine, nil)
	return evaluator.NewPipeline(ev, repo, nil, eventBus, nil)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	pipeline := newTestPipeline(t, eventBus, &domain.Rule{
		ID: "anon", Label: "Anonymous Customer", Kind: domain.KindAnonymousCustomer, Score: 9, Enabled: true,
	})

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicOrderPlaced {
			t.Errorf("expected topic %s, got %s", domain.TopicOrderPlaced, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessOrder", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)
		w.Start()
		defer w.Stop()

		var evaluated atomic.Bool
		var evaluatedPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicOrderEvaluated, func(ctx context.Context, msg *domain.Message) error {
			evaluatedPayload = msg.Payload
			evaluated.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		order := &domain.Order{
			ID:        "order-async-1",
			Anonymous: true,
			State:     domain.OrderStatePlaced,
			PlacedAt:  time.Now().UTC(),
		}

		payload, _ := json.Marshal(order)
		if err := eventBus.Publish(context.Background(), domain.TopicOrderPlaced, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !evaluated.Load() {
			t.Fatal("expected evaluation result to be published")
		}

		var result evaluator.Result
		if err := json.Unmarshal(evaluatedPayload, &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.OrderID != "order-async-1" {
			t.Errorf("expected orderID 'order-async-1', got '%s'", result.OrderID)
		}
		if result.TotalScore != 9 {
			t.Errorf("expected score 9, got %d", result.TotalScore)
		}
	})

	t.Run("BlocklistedOrderPublishesAlert", func(t *testing.T) {
		blockBus := bus.NewChannelBus(100)
		defer blockBus.Close()

		highPipeline := newTestPipeline(t, blockBus, &domain.Rule{
			ID: "anon-heavy", Label: "Anonymous Customer", Kind: domain.KindAnonymousCustomer, Score: 50, Enabled: true,
		})

		w := NewWorker(blockBus, highPipeline)
		w.Start()
		defer w.Stop()

		var blocklisted atomic.Bool

		blockBus.Subscribe(context.Background(), domain.TopicOrderBlocklisted, func(ctx context.Context, msg *domain.Message) error {
			blocklisted.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		order := &domain.Order{
			ID:        "order-async-2",
			Anonymous: true,
			State:     domain.OrderStatePlaced,
			PlacedAt:  time.Now().UTC(),
		}

		payload, _ := json.Marshal(order)
		blockBus.Publish(context.Background(), domain.TopicOrderPlaced, payload)

		time.Sleep(100 * time.Millisecond)

		if !blocklisted.Load() {
			t.Error("expected blocklist event for score above blocklist cap")
		}
	})

	t.Run("IgnoresMalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)
		w.Start()
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		if err := eventBus.Publish(context.Background(), domain.TopicOrderPlaced, []byte("not-json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Nothing to assert beyond the worker not crashing.
		time.Sleep(50 * time.Millisecond)
	})
}
