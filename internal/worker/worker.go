// Package worker provides async order evaluation from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/evaluator"
)

// Worker consumes placed-order events and drives them through the
// evaluation pipeline. It is the async counterpart to the synchronous
// POST /orders/{id}/evaluate endpoint.
type Worker struct {
	bus      domain.EventBus
	pipeline *evaluator.Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipeline *evaluator.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the order-placed topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicOrderPlaced, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicOrderPlaced)
	return nil
}

// handleMessage evaluates one placed order from the bus.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var order domain.Order
	if err := json.Unmarshal(msg.Payload, &order); err != nil {
		slog.Error("failed to parse order message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if order.ID == "" {
		slog.Error("order message missing id", "message_id", msg.ID)
		return nil
	}

	slog.Debug("processing order", "order_id", order.ID)

	result, err := w.pipeline.Process(ctx, &order)
	if err != nil {
		slog.Error("order evaluation failed",
			"order_id", order.ID,
			"error", err,
		)
		return err
	}

	slog.Info("order processed",
		"order_id", order.ID,
		"score", result.TotalScore,
		"decision", result.Decision,
		"new_matches", len(result.NewMatches),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
