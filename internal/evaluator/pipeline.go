package evaluator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// Notifier delivers blocklist notifications.
type Notifier interface {
	NotifyBlocklisted(ctx context.Context, notification *domain.Notification) error
}

// Pipeline runs the full evaluation flow for an order: evaluate, apply
// the blocklist side effects, and publish the outcome. The API handler
// and the bus worker both drive orders through it.
type Pipeline struct {
	evaluator *Evaluator
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	notifier  Notifier

	newID func() string
}

// NewPipeline wires the evaluation pipeline. cache, bus, and notifier
// may each be nil.
func NewPipeline(ev *Evaluator, repo domain.Repository, cache domain.Cache, bus domain.EventBus, notifier Notifier) *Pipeline {
	return &Pipeline{
		evaluator: ev,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		notifier:  notifier,
		newID:     uuid.NewString,
	}
}

// Process evaluates an order and applies the decision. The score and the
// saved record are authoritative once Evaluate returns; failures in
// cancellation, notification, or publishing are logged and never undo
// the evaluation.
func (p *Pipeline) Process(ctx context.Context, order *domain.Order) (*Result, error) {
	result, err := p.evaluator.Evaluate(ctx, order)
	if err != nil {
		return nil, err
	}

	if result.Decision == domain.DecisionBlocklisted {
		p.applyBlocklist(ctx, order, result)
	}

	if p.cache != nil {
		if err := p.cache.SetScore(ctx, order.ID, result.TotalScore, 5*time.Minute); err != nil {
			slog.Warn("failed to cache score", "order_id", order.ID, "error", err)
		}
	}

	p.publish(ctx, domain.TopicOrderEvaluated, result)

	return result, nil
}

func (p *Pipeline) applyBlocklist(ctx context.Context, order *domain.Order, result *Result) {
	stopped := false

	if result.Config.StopOrder && order.State != domain.OrderStateFraudulent {
		if err := p.repo.UpdateOrderState(ctx, order.ID, domain.OrderStateFraudulent); err != nil {
			slog.Error("failed to cancel blocklisted order", "order_id", order.ID, "error", err)
		} else {
			stopped = true
			order.State = domain.OrderStateFraudulent

			entry := &domain.LogEntry{
				ID:        p.newID(),
				OrderID:   order.ID,
				Category:  domain.LogOrderCancelled,
				Message:   "order cancelled: suspicion score exceeds blocklist cap",
				CreatedAt: time.Now().UTC(),
			}
			if err := p.repo.SaveLogEntry(ctx, entry); err != nil {
				slog.Warn("failed to write cancellation log entry", "order_id", order.ID, "error", err)
			}
		}
	}

	if p.notifier != nil {
		notification := &domain.Notification{
			To:           result.Config.NotifyAddress,
			OrderID:      order.ID,
			CustomerID:   order.CustomerID,
			Anonymous:    order.Anonymous,
			OrderState:   order.State,
			PlacedAt:     order.PlacedAt,
			TotalScore:   result.TotalScore,
			OrderStopped: stopped,
			RuleNotes:    result.Record.RuleNotes(),
		}
		if err := p.notifier.NotifyBlocklisted(ctx, notification); err != nil {
			slog.Error("failed to deliver blocklist notification", "order_id", order.ID, "error", err)
		}
	}

	p.publish(ctx, domain.TopicOrderBlocklisted, result)
}

func (p *Pipeline) publish(ctx context.Context, topic string, result *Result) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Warn("failed to encode evaluation result", "order_id", result.OrderID, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish evaluation result", "topic", topic, "order_id", result.OrderID, "error", err)
	}
}
