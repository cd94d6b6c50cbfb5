// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Order is the snapshot of a commerce order as seen at evaluation time.
// Kestrel treats it as read-only input; the storefront owns the order.
type Order struct {
	ID string `json:"id"`

	// Customer identity. Anonymous is true for guest checkouts; CustomerID
	// may be empty in that case.
	CustomerID string `json:"customerId"`
	Anonymous  bool   `json:"anonymous"`

	// Network and address details used by rule predicates.
	IPAddress string  `json:"ipAddress"`
	Billing   Address `json:"billing"`

	// Line items and totals.
	Items      []LineItem `json:"items"`
	TotalPrice float64    `json:"totalPrice"`
	Currency   string     `json:"currency"`

	// Workflow state (e.g., "draft", "placed", "completed", "fraudulent").
	State string `json:"state"`

	// Temporal
	PlacedAt    time.Time `json:"placedAt"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Address holds the billing address lines inspected by the PO-Box rule.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// LineItem is one purchasable line of an order.
type LineItem struct {
	SKU       string  `json:"sku"`
	Title     string  `json:"title,omitempty"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`

	// Product attributes evaluated by the product_attribute rule kind
	// (e.g., {"type": "gold_membership", "color": "red"}).
	Attributes map[string]any `json:"attributes,omitempty"`
}

// TotalQuantity sums line-item quantities.
func (o *Order) TotalQuantity() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Completed reports whether the order has a completion timestamp.
func (o *Order) Completed() bool {
	return !o.CompletedAt.IsZero()
}

// OrderRequest is the API payload for order ingestion and evaluation.
type OrderRequest struct {
	ID          string     `json:"id,omitempty"`
	CustomerID  string     `json:"customerId"`
	Anonymous   bool       `json:"anonymous"`
	IPAddress   string     `json:"ipAddress"`
	Billing     Address    `json:"billing"`
	Items       []LineItem `json:"items"`
	TotalPrice  float64    `json:"totalPrice"`
	Currency    string     `json:"currency"`
	State       string     `json:"state,omitempty"`
	PlacedAt    time.Time  `json:"placedAt,omitzero"`
	CompletedAt time.Time  `json:"completedAt,omitzero"`
}

// ToOrder converts a request to an Order, filling defaults.
func (r *OrderRequest) ToOrder() *Order {
	now := time.Now().UTC()

	state := r.State
	if state == "" {
		state = OrderStatePlaced
	}
	placed := r.PlacedAt
	if placed.IsZero() {
		placed = now
	}

	return &Order{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		Anonymous:   r.Anonymous,
		IPAddress:   r.IPAddress,
		Billing:     r.Billing,
		Items:       r.Items,
		TotalPrice:  r.TotalPrice,
		Currency:    r.Currency,
		State:       state,
		PlacedAt:    placed,
		CompletedAt: r.CompletedAt,
		CreatedAt:   now,
	}
}

// Order workflow states Kestrel cares about.
const (
	OrderStatePlaced     = "placed"
	OrderStateCompleted  = "completed"
	OrderStateFraudulent = "fraudulent"
)
