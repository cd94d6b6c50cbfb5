package domain

import (
	"strconv"
	"time"
)

// SuspicionRecord is the per-order aggregate of matched fraud rules.
//
// Lifecycle: created lazily the first time any rule matches, appended to on
// later evaluations, and removed only by an explicit admin reset. Matched
// rules are never removed by re-evaluation, even when the underlying order
// state would no longer match.
type SuspicionRecord struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`

	// MatchedRules holds (rule, score-at-match) pairs in evaluation order.
	// A rule id appears at most once.
	MatchedRules []MatchedRule `json:"matchedRules"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSuspicionRecord creates an empty record for an order.
func NewSuspicionRecord(id, orderID string) *SuspicionRecord {
	now := time.Now().UTC()
	return &SuspicionRecord{
		ID:        id,
		OrderID:   orderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasRule reports whether the rule id is already recorded.
func (s *SuspicionRecord) HasRule(ruleID string) bool {
	for _, m := range s.MatchedRules {
		if m.RuleID == ruleID {
			return true
		}
	}
	return false
}

// AddRule appends a matched rule, preserving insertion order. Adding an
// already-recorded rule is a no-op; the add is idempotent.
func (s *SuspicionRecord) AddRule(m MatchedRule) bool {
	if s.HasRule(m.RuleID) {
		return false
	}
	s.MatchedRules = append(s.MatchedRules, m)
	s.UpdatedAt = time.Now().UTC()
	return true
}

// TotalScore sums the matched-rule scores. The total is always derived from
// the matched set, never stored independently.
func (s *SuspicionRecord) TotalScore() int {
	score := 0
	for _, m := range s.MatchedRules {
		score += m.Score
	}
	return score
}

// RuleNotes renders "label: score" lines for every matched rule, in match
// order. Used in blocklist notifications and the activity log.
func (s *SuspicionRecord) RuleNotes() []string {
	notes := make([]string, 0, len(s.MatchedRules))
	for _, m := range s.MatchedRules {
		notes = append(notes, m.Label+": "+strconv.Itoa(m.Score))
	}
	return notes
}

// LogEntry is one order-activity event (rule match, cancellation, reset).
type LogEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity log categories.
const (
	LogRuleMatched      = "fraud_rule_matched"
	LogOrderCancelled   = "order_fraud_cancelled"
	LogSuspicionCleared = "suspicion_cleared"
)
