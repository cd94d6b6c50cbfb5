// Package rules provides the fraud-rule registry and predicate engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// ErrNotFound is returned when a rule id is not present in the registry.
var ErrNotFound = errors.New("rule not found")

// HistoryReader provides the prior-order lookups needed by the
// check_user_ip and last_minute predicates.
type HistoryReader interface {
	// HasDifferentIP reports whether the customer has at least one
	// completed order recorded under an IP address other than ip.
	HasDifferentIP(ctx context.Context, customerID string, ip string) (bool, error)

	// HasCompletedSince reports whether the customer has a completed order
	// with completion time at or after since (inclusive boundary).
	HasCompletedSince(ctx context.Context, customerID string, since time.Time) (bool, error)
}

// Engine is the rule registry and predicate evaluator. Rules are kept in
// position order; evaluation walks them sequentially.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	rules   []*LoadedRule
	byID    map[string]*LoadedRule
	history HistoryReader

	// now is the evaluation clock, overridable in tests.
	now func() time.Time
}

// LoadedRule pairs a rule configuration with its compiled line-item
// condition programs (product_attribute kind only).
type LoadedRule struct {
	Config   *domain.Rule
	programs []cel.Program
}

// NewEngine creates a rule engine. history may be nil, in which case the
// history-dependent kinds never match.
func NewEngine(history HistoryReader) (*Engine, error) {
	// CEL environment exposing one line item per activation.
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("sku", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("unit_price", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:     env,
		byID:    make(map[string]*LoadedRule),
		history: history,
		now:     time.Now,
	}, nil
}

// SetClock overrides the evaluation clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// ValidateRule checks a rule configuration, including compilation of its
// line-item conditions, without mutating the registry.
func (e *Engine) ValidateRule(cfg *domain.Rule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the registry. An existing rule
// with the same id is replaced in place; new rules append at the end.
func (e *Engine) LoadRule(cfg *domain.Rule) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	loaded, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.byID[cfg.ID]; ok {
		*existing = *loaded
		return nil
	}
	e.rules = append(e.rules, loaded)
	e.byID[cfg.ID] = loaded
	return nil
}

// LoadRules loads persisted rules in the given order. Rules whose
// conditions no longer compile are loaded as never-matching rather than
// failing startup; the broken condition is logged.
func (e *Engine) LoadRules(configs []*domain.Rule) {
	for _, cfg := range configs {
		loaded, err := e.compileRule(cfg)
		if err != nil {
			slog.Warn("rule condition failed to compile, rule will not match",
				"rule_id", cfg.ID,
				"error", err,
			)
			loaded = &LoadedRule{Config: cfg}
		}

		e.mu.Lock()
		if existing, ok := e.byID[cfg.ID]; ok {
			*existing = *loaded
		} else {
			e.rules = append(e.rules, loaded)
			e.byID[cfg.ID] = loaded
		}
		e.mu.Unlock()
	}
}

// ReloadRules clears the registry and loads the given rules.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.Rule) {
	e.mu.Lock()
	e.rules = nil
	e.byID = make(map[string]*LoadedRule)
	e.mu.Unlock()

	e.LoadRules(configs)
}

// Active returns enabled rules in registry (position) order.
func (e *Engine) Active() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := make([]*domain.Rule, 0, len(e.rules))
	for _, lr := range e.rules {
		if lr.Config.Enabled {
			active = append(active, lr.Config)
		}
	}
	return active
}

// All returns every loaded rule configuration in registry order.
func (e *Engine) All() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := make([]*domain.Rule, 0, len(e.rules))
	for _, lr := range e.rules {
		all = append(all, lr.Config)
	}
	return all
}

// Get returns the rule with the given id, or ErrNotFound.
func (e *Engine) Get(ruleID string) (*domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	lr, ok := e.byID[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ruleID)
	}
	return lr.Config, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Matches evaluates one rule against an order. Predicate problems
// (missing parameters, history lookup failures, condition evaluation
// errors) degrade to a non-match; only an unknown rule id is an error.
func (e *Engine) Matches(ctx context.Context, ruleID string, order *domain.Order) (bool, error) {
	e.mu.RLock()
	lr, ok := e.byID[ruleID]
	now := e.now
	e.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, ruleID)
	}
	return e.match(ctx, lr, order, now()), nil
}

func (e *Engine) match(ctx context.Context, lr *LoadedRule, order *domain.Order, now time.Time) bool {
	cfg := lr.Config

	switch cfg.Kind {
	case domain.KindAnonymousCustomer:
		return order.Anonymous || order.CustomerID == ""

	case domain.KindCheckUserIP:
		if e.history == nil || order.CustomerID == "" {
			return false
		}
		matched, err := e.history.HasDifferentIP(ctx, order.CustomerID, order.IPAddress)
		if err != nil {
			slog.Warn("ip history lookup failed", "rule_id", cfg.ID, "error", err)
			return false
		}
		return matched

	case domain.KindLastMinute:
		if e.history == nil || order.CustomerID == "" || cfg.Params.LastMinute <= 0 {
			return false
		}
		cutoff := now.Add(-time.Duration(cfg.Params.LastMinute) * time.Minute)
		matched, err := e.history.HasCompletedSince(ctx, order.CustomerID, cutoff)
		if err != nil {
			slog.Warn("order history lookup failed", "rule_id", cfg.ID, "error", err)
			return false
		}
		return matched

	case domain.KindPOBox:
		return ContainsPOBox(order.Billing.Line1) || ContainsPOBox(order.Billing.Line2)

	case domain.KindProductAttribute:
		return e.matchLineItems(lr, order)

	case domain.KindTotalPrice:
		// Unset threshold is the defined always-false case.
		if cfg.Params.BuyAmount == nil {
			return false
		}
		return order.TotalPrice > *cfg.Params.BuyAmount

	case domain.KindTotalQuantity:
		if cfg.Params.BuyQuantity <= 0 {
			return false
		}
		return order.TotalQuantity() > cfg.Params.BuyQuantity
	}

	return false
}

// matchLineItems runs the compiled conditions over every line item.
// Conditions are OR-combined, and the rule matches as soon as any item
// satisfies any condition (mirrors the OR condition group of the stock
// product-attribute rule).
func (e *Engine) matchLineItems(lr *LoadedRule, order *domain.Order) bool {
	if len(lr.programs) == 0 {
		return false
	}

	for _, item := range order.Items {
		activation := map[string]any{
			"item":       itemVars(item),
			"sku":        item.SKU,
			"title":      item.Title,
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice,
		}

		for _, program := range lr.programs {
			out, _, err := program.Eval(activation)
			if err != nil {
				// Bad attribute reference etc. degrades to a non-match.
				continue
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				return true
			}
		}
	}
	return false
}

func itemVars(item domain.LineItem) map[string]any {
	vars := make(map[string]any, len(item.Attributes)+4)
	for k, v := range item.Attributes {
		vars[k] = v
	}
	vars["sku"] = item.SKU
	vars["title"] = item.Title
	vars["quantity"] = item.Quantity
	vars["unit_price"] = item.UnitPrice
	return vars
}

func (e *Engine) compileRule(cfg *domain.Rule) (*LoadedRule, error) {
	loaded := &LoadedRule{Config: cfg}

	if cfg.Kind != domain.KindProductAttribute {
		return loaded, nil
	}

	for _, expr := range cfg.Params.ItemConditions {
		ast, issues := e.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: failed to compile condition %q: %w", cfg.ID, expr, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: condition %q must return bool, got %s", cfg.ID, expr, ast.OutputType())
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: failed to create program for %q: %w", cfg.ID, expr, err)
		}
		loaded.programs = append(loaded.programs, program)
	}

	return loaded, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	e.byID = make(map[string]*LoadedRule)
	return nil
}
