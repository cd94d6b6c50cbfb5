package domain

import "fmt"

// Rule kinds. Each kind selects one predicate implementation.
const (
	KindAnonymousCustomer = "anonymous_customer"
	KindCheckUserIP       = "check_user_ip"
	KindLastMinute        = "last_minute"
	KindPOBox             = "po_box"
	KindProductAttribute  = "product_attribute"
	KindTotalPrice        = "total_price"
	KindTotalQuantity     = "total_quantity"
)

// RuleKinds lists every supported kind, in no particular order.
var RuleKinds = []string{
	KindAnonymousCustomer,
	KindCheckUserIP,
	KindLastMinute,
	KindPOBox,
	KindProductAttribute,
	KindTotalPrice,
	KindTotalQuantity,
}

// Rule is a configured fraud-detection predicate with a score weight.
type Rule struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	// Kind selects the predicate implementation.
	Kind string `json:"kind"`

	// Score is the non-negative weight this rule contributes when it matches.
	Score int `json:"score"`

	// Whether the rule participates in evaluation.
	Enabled bool `json:"enabled"`

	// Kind-specific configuration.
	Params RuleParams `json:"params"`

	// Position orders rules within the registry (insertion order).
	Position int `json:"position"`
}

// RuleParams holds kind-specific rule configuration. Unused fields for a
// given kind are ignored; missing required fields make the rule never match.
type RuleParams struct {
	// last_minute: completed-order lookback window in minutes.
	LastMinute int `json:"lastMinute,omitempty"`

	// total_price: strict lower bound on the order total. Nil means the
	// rule never matches.
	BuyAmount *float64 `json:"buyAmount,omitempty"`

	// total_quantity: strict lower bound on summed line-item quantities.
	BuyQuantity int64 `json:"buyQuantity,omitempty"`

	// product_attribute: CEL conditions over a line item, combined with OR.
	// The rule matches when any line item satisfies any condition.
	ItemConditions []string `json:"itemConditions,omitempty"`
}

// Validate checks the rule invariants enforced at configuration save time.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Score < 0 {
		return fmt.Errorf("rule %s: score must be non-negative, got %d", r.ID, r.Score)
	}
	known := false
	for _, kind := range RuleKinds {
		if r.Kind == kind {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// MatchedRule is one entry in a suspicion record: the rule id plus the
// label and score captured at match time. Capturing the score here keeps
// already-suspected orders stable when rule configuration is later edited.
type MatchedRule struct {
	RuleID string `json:"ruleId"`
	Label  string `json:"label"`
	Score  int    `json:"score"`
}
