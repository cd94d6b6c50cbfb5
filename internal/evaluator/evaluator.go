// Package evaluator runs the fraud rules against orders and maintains the
// per-order suspicion records.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/policy"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/rules"
)

// Result is the outcome of one evaluation pass.
type Result struct {
	OrderID string `json:"orderId"`

	// Record is the suspicion record after the pass, or nil when no rule
	// has ever matched the order.
	Record *domain.SuspicionRecord `json:"record,omitempty"`

	// NewMatches are the rules that matched for the first time this pass.
	NewMatches []domain.MatchedRule `json:"newMatches,omitempty"`

	TotalScore int             `json:"totalScore"`
	Decision   domain.Decision `json:"decision"`

	// Config is the decision configuration the pass was scored against.
	Config domain.DecisionConfig `json:"-"`
}

// Evaluator walks the enabled rules over an order. Evaluation is
// idempotent: rules already recorded on the suspicion record are skipped,
// so repeated passes never raise the score for the same rule twice, and a
// recorded match is never removed.
type Evaluator struct {
	repo   domain.Repository
	engine *rules.Engine
	cache  domain.Cache
	tracer trace.Tracer

	newID func() string
}

// New creates an evaluator. cache may be nil.
func New(repo domain.Repository, engine *rules.Engine, cache domain.Cache) *Evaluator {
	return &Evaluator{
		repo:   repo,
		engine: engine,
		cache:  cache,
		tracer: otel.Tracer("kestrel/evaluator"),
		newID:  uuid.NewString,
	}
}

// Evaluate runs one pass of the enabled rules over the order.
//
// The suspicion record is created lazily: an order that matches nothing
// never gets one. Rules that disappear from the registry mid-pass are
// skipped. The record is saved only when the pass added at least one
// match.
func (e *Evaluator) Evaluate(ctx context.Context, order *domain.Order) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "evaluator.Evaluate",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	record, err := e.repo.GetSuspicionByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load suspicion record: %w", err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		record = nil
	}

	var newMatches []domain.MatchedRule

	for _, rule := range e.engine.Active() {
		if record != nil && record.HasRule(rule.ID) {
			continue
		}

		matched, err := e.engine.Matches(ctx, rule.ID, order)
		if err != nil {
			// Rule removed between listing and evaluation. Skip it and
			// keep walking the rest.
			slog.Debug("skipping missing rule", "rule_id", rule.ID, "order_id", order.ID)
			continue
		}
		if !matched {
			continue
		}

		if record == nil {
			record = domain.NewSuspicionRecord(e.newID(), order.ID)
		}

		// Snapshot label and score at match time. Later edits to the rule
		// never change what an existing record is worth.
		m := domain.MatchedRule{RuleID: rule.ID, Label: rule.Label, Score: rule.Score}
		if record.AddRule(m) {
			newMatches = append(newMatches, m)
			e.logRuleMatch(ctx, order.ID, m)
		}
	}

	if len(newMatches) > 0 {
		if err := e.repo.SaveSuspicion(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save suspicion record: %w", err)
		}
		if e.cache != nil {
			if err := e.cache.InvalidateScore(ctx, order.ID); err != nil {
				slog.Warn("failed to invalidate cached score", "order_id", order.ID, "error", err)
			}
		}
	}

	score := 0
	if record != nil {
		score = record.TotalScore()
	}

	cfg, err := e.repo.GetDecisionConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load decision config: %w", err)
	}

	result := &Result{
		OrderID:    order.ID,
		Record:     record,
		NewMatches: newMatches,
		TotalScore: score,
		Decision:   policy.Decide(score, cfg),
		Config:     cfg,
	}

	span.SetAttributes(
		attribute.Int("order.score", score),
		attribute.String("order.decision", string(result.Decision)),
	)

	slog.Info("order evaluated",
		"order_id", order.ID,
		"new_matches", len(newMatches),
		"total_score", score,
		"decision", result.Decision,
	)

	return result, nil
}

// Score returns the current suspicion score for an order, consulting the
// cache before the repository. Orders without a record score zero.
func (e *Evaluator) Score(ctx context.Context, orderID string) (int, error) {
	if e.cache != nil {
		if score, ok, err := e.cache.GetScore(ctx, orderID); err == nil && ok {
			return score, nil
		}
	}

	record, err := e.repo.GetSuspicionByOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	score := record.TotalScore()
	if e.cache != nil {
		if err := e.cache.SetScore(ctx, orderID, score, 5*time.Minute); err != nil {
			slog.Warn("failed to cache score", "order_id", orderID, "error", err)
		}
	}
	return score, nil
}

// Reset removes the suspicion record for an order and logs the reset.
// Resetting an order without a record returns repository.ErrNotFound.
func (e *Evaluator) Reset(ctx context.Context, orderID string) error {
	if err := e.repo.DeleteSuspicionByOrder(ctx, orderID); err != nil {
		return err
	}

	if e.cache != nil {
		if err := e.cache.InvalidateScore(ctx, orderID); err != nil {
			slog.Warn("failed to invalidate cached score", "order_id", orderID, "error", err)
		}
	}

	entry := &domain.LogEntry{
		ID:        e.newID(),
		OrderID:   orderID,
		Category:  domain.LogSuspicionCleared,
		Message:   "suspicion record cleared",
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repo.SaveLogEntry(ctx, entry); err != nil {
		slog.Warn("failed to write reset log entry", "order_id", orderID, "error", err)
	}

	return nil
}

func (e *Evaluator) logRuleMatch(ctx context.Context, orderID string, m domain.MatchedRule) {
	entry := &domain.LogEntry{
		ID:        e.newID(),
		OrderID:   orderID,
		Category:  domain.LogRuleMatched,
		Message:   fmt.Sprintf("rule %q matched with score %d", m.Label, m.Score),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repo.SaveLogEntry(ctx, entry); err != nil {
		slog.Warn("failed to write rule-match log entry", "order_id", orderID, "error", err)
	}
}
