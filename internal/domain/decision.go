package domain

import (
	"fmt"
	"time"
)

// Decision is the classification of a suspicion record against the
// configured thresholds.
type Decision string

const (
	// DecisionNone: total score at or below the checklist cap.
	DecisionNone Decision = "none"

	// DecisionChecklisted: above the checklist cap but at or below the
	// blocklist cap. Informational only.
	DecisionChecklisted Decision = "checklisted"

	// DecisionBlocklisted: above the blocklist cap. Triggers cancellation
	// (when configured) and a notification.
	DecisionBlocklisted Decision = "blocklisted"
)

// DecisionConfig holds the score thresholds and blocklist side-effect
// settings. ChecklistCap must be strictly less than BlocklistCap; the
// invariant is enforced at save time, never re-checked during evaluation.
type DecisionConfig struct {
	ChecklistCap int `json:"checklistCap"`
	BlocklistCap int `json:"blocklistCap"`

	// StopOrder cancels blocklisted orders with the "fraudulent" state.
	StopOrder bool `json:"stopOrder"`

	// NotifyAddress receives blocklist notifications.
	NotifyAddress string `json:"notifyAddress"`
}

// DefaultDecisionConfig mirrors the stock checklist/blocklist caps.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		ChecklistCap: 10,
		BlocklistCap: 20,
	}
}

// Validate enforces the configuration invariants.
func (c DecisionConfig) Validate() error {
	if c.ChecklistCap < 0 {
		return &ConfigError{Field: "checklistCap", Reason: "must be non-negative"}
	}
	if c.BlocklistCap < 0 {
		return &ConfigError{Field: "blocklistCap", Reason: "must be non-negative"}
	}
	if c.ChecklistCap >= c.BlocklistCap {
		return &ConfigError{
			Field:  "checklistCap",
			Reason: fmt.Sprintf("checklist cap (%d) must be less than blocklist cap (%d)", c.ChecklistCap, c.BlocklistCap),
		}
	}
	return nil
}

// ConfigError reports an invalid configuration value at save time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Field + ": " + e.Reason
}

// Notification is the payload delivered for a blocklisted order. The fields
// match the blocklist mail of the stock fraud workflow.
type Notification struct {
	To           string    `json:"to"`
	OrderID      string    `json:"orderId"`
	CustomerID   string    `json:"customerId"`
	Anonymous    bool      `json:"anonymous"`
	OrderState   string    `json:"orderState"`
	PlacedAt     time.Time `json:"placedAt"`
	TotalScore   int       `json:"totalScore"`
	OrderStopped bool      `json:"orderStopped"`

	// RuleNotes holds one "label: score" line per matched rule.
	RuleNotes []string `json:"ruleNotes"`
}
