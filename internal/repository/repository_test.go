package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetOrder", func(t *testing.T) {
		order := &domain.Order{
			ID:         "order-001",
			CustomerID: "cust-001",
			IPAddress:  "203.0.113.7",
			Billing: domain.Address{
				Line1:      "742 Evergreen Terrace",
				City:       "Springfield",
				PostalCode: "49007",
				Country:    "US",
			},
			Items: []domain.LineItem{
				{SKU: "sku-1", Title: "Widget", Quantity: 2, UnitPrice: 25.00},
			},
			TotalPrice: 50.00,
			Currency:   "USD",
			State:      domain.OrderStatePlaced,
			PlacedAt:   time.Now().UTC(),
			CreatedAt:  time.Now().UTC(),
		}

		if err := repo.SaveOrder(ctx, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}

		retrieved, err := repo.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}

		if retrieved.ID != order.ID {
			t.Errorf("expected ID %s, got %s", order.ID, retrieved.ID)
		}
		if retrieved.TotalPrice != order.TotalPrice {
			t.Errorf("expected TotalPrice %.2f, got %.2f", order.TotalPrice, retrieved.TotalPrice)
		}
		if retrieved.Billing.Line1 != order.Billing.Line1 {
			t.Errorf("expected billing line %q, got %q", order.Billing.Line1, retrieved.Billing.Line1)
		}
		if len(retrieved.Items) != 1 || retrieved.Items[0].Quantity != 2 {
			t.Errorf("unexpected items: %+v", retrieved.Items)
		}
		if !retrieved.CompletedAt.IsZero() {
			t.Errorf("expected zero CompletedAt, got %v", retrieved.CompletedAt)
		}
	})

	t.Run("UpdateOrderState", func(t *testing.T) {
		if err := repo.UpdateOrderState(ctx, "order-001", domain.OrderStateCompleted); err != nil {
			t.Fatalf("UpdateOrderState failed: %v", err)
		}

		retrieved, err := repo.GetOrder(ctx, "order-001")
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if retrieved.State != domain.OrderStateCompleted {
			t.Errorf("expected state %s, got %s", domain.OrderStateCompleted, retrieved.State)
		}
		if retrieved.CompletedAt.IsZero() {
			t.Error("expected CompletedAt to be stamped on completion")
		}

		if err := repo.UpdateOrderState(ctx, "nonexistent", domain.OrderStateCompleted); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		threshold := 500.0
		rule := &domain.Rule{
			ID:      "high-total-price",
			Label:   "High Total",
			Kind:    domain.KindTotalPrice,
			Score:   5,
			Enabled: true,
			Params:  domain.RuleParams{BuyAmount: &threshold},
		}

		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		retrieved, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Kind != domain.KindTotalPrice {
			t.Errorf("expected kind %s, got %s", domain.KindTotalPrice, retrieved.Kind)
		}
		if retrieved.Params.BuyAmount == nil || *retrieved.Params.BuyAmount != threshold {
			t.Errorf("expected BuyAmount %v, got %v", threshold, retrieved.Params.BuyAmount)
		}

		// Re-save replaces in place.
		rule.Score = 7
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule (update) failed: %v", err)
		}
		retrieved, err = repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Score != 7 {
			t.Errorf("expected updated score 7, got %d", retrieved.Score)
		}
	})

	t.Run("ListRulesInPositionOrder", func(t *testing.T) {
		rules := []*domain.Rule{
			{ID: "third", Label: "Third", Kind: domain.KindPOBox, Score: 1, Enabled: true, Position: 2},
			{ID: "first", Label: "First", Kind: domain.KindAnonymousCustomer, Score: 1, Enabled: true, Position: 0},
			{ID: "second", Label: "Second", Kind: domain.KindTotalQuantity, Score: 1, Enabled: false, Position: 1},
		}
		for _, rule := range rules {
			if err := repo.SaveRule(ctx, rule); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}

		listed, err := repo.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}

		var got []string
		for _, rule := range listed {
			if rule.ID == "high-total-price" {
				continue
			}
			got = append(got, rule.ID)
		}
		want := []string{"first", "second", "third"}
		if len(got) != len(want) {
			t.Fatalf("expected %d rules, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
			}
		}
	})

	t.Run("SuspicionLifecycle", func(t *testing.T) {
		record := domain.NewSuspicionRecord("susp-001", "order-001")
		record.AddRule(domain.MatchedRule{RuleID: "high-total-price", Label: "High Total", Score: 5})

		if err := repo.SaveSuspicion(ctx, record); err != nil {
			t.Fatalf("SaveSuspicion failed: %v", err)
		}

		retrieved, err := repo.GetSuspicionByOrder(ctx, "order-001")
		if err != nil {
			t.Fatalf("GetSuspicionByOrder failed: %v", err)
		}
		if retrieved.TotalScore() != 5 {
			t.Errorf("expected score 5, got %d", retrieved.TotalScore())
		}

		// Adding a rule and re-saving replaces the matched set.
		retrieved.AddRule(domain.MatchedRule{RuleID: "anon", Label: "Anonymous", Score: 9})
		if err := repo.SaveSuspicion(ctx, retrieved); err != nil {
			t.Fatalf("SaveSuspicion (update) failed: %v", err)
		}
		updated, err := repo.GetSuspicionByOrder(ctx, "order-001")
		if err != nil {
			t.Fatalf("GetSuspicionByOrder failed: %v", err)
		}
		if updated.TotalScore() != 14 {
			t.Errorf("expected score 14, got %d", updated.TotalScore())
		}
		if len(updated.MatchedRules) != 2 {
			t.Errorf("expected 2 matched rules, got %d", len(updated.MatchedRules))
		}

		if err := repo.DeleteSuspicionByOrder(ctx, "order-001"); err != nil {
			t.Fatalf("DeleteSuspicionByOrder failed: %v", err)
		}
		if _, err := repo.GetSuspicionByOrder(ctx, "order-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteSuspicionByOrder(ctx, "order-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("DecisionConfig", func(t *testing.T) {
		cfg, err := repo.GetDecisionConfig(ctx)
		if err != nil {
			t.Fatalf("GetDecisionConfig failed: %v", err)
		}
		defaults := domain.DefaultDecisionConfig()
		if cfg.ChecklistCap != defaults.ChecklistCap || cfg.BlocklistCap != defaults.BlocklistCap {
			t.Errorf("expected defaults before first save, got %+v", cfg)
		}

		saved := domain.DecisionConfig{
			ChecklistCap:  15,
			BlocklistCap:  30,
			StopOrder:     true,
			NotifyAddress: "fraud@example.com",
		}
		if err := repo.SaveDecisionConfig(ctx, saved); err != nil {
			t.Fatalf("SaveDecisionConfig failed: %v", err)
		}

		cfg, err = repo.GetDecisionConfig(ctx)
		if err != nil {
			t.Fatalf("GetDecisionConfig failed: %v", err)
		}
		if cfg != saved {
			t.Errorf("expected %+v, got %+v", saved, cfg)
		}
	})

	t.Run("ActivityLog", func(t *testing.T) {
		entries := []*domain.LogEntry{
			{ID: "log-1", OrderID: "order-001", Category: domain.LogRuleMatched, Message: "High Total: 5", CreatedAt: time.Now().UTC()},
			{ID: "log-2", OrderID: "order-001", Category: domain.LogOrderCancelled, Message: "order cancelled", CreatedAt: time.Now().UTC().Add(time.Second)},
		}
		for _, entry := range entries {
			if err := repo.SaveLogEntry(ctx, entry); err != nil {
				t.Fatalf("SaveLogEntry failed: %v", err)
			}
		}

		listed, err := repo.ListLogEntries(ctx, "order-001")
		if err != nil {
			t.Fatalf("ListLogEntries failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(listed))
		}
		if listed[0].ID != "log-1" || listed[1].ID != "log-2" {
			t.Errorf("entries out of order: %s, %s", listed[0].ID, listed[1].ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetOrder(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRule(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetSuspicionByOrder(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestOrderHistoryQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := []*domain.Order{
		{ID: "o-1", CustomerID: "cust-1", IPAddress: "203.0.113.7", State: domain.OrderStateCompleted, CompletedAt: base.Add(-30 * time.Minute)},
		{ID: "o-2", CustomerID: "cust-1", IPAddress: "198.51.100.4", State: domain.OrderStateCompleted, CompletedAt: base.Add(-4 * time.Minute)},
		{ID: "o-3", CustomerID: "cust-1", IPAddress: "203.0.113.7", State: domain.OrderStatePlaced},
		{ID: "o-4", CustomerID: "cust-2", IPAddress: "192.0.2.1", State: domain.OrderStateCompleted, CompletedAt: base.Add(-time.Minute)},
	}
	for _, order := range orders {
		order.PlacedAt = base.Add(-time.Hour)
		order.CreatedAt = base.Add(-time.Hour)
		order.Currency = "USD"
		if err := repo.SaveOrder(ctx, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
	}

	t.Run("CountCompletedWithOtherIP", func(t *testing.T) {
		count, err := repo.CountCompletedWithOtherIP(ctx, "cust-1", "203.0.113.7")
		if err != nil {
			t.Fatalf("CountCompletedWithOtherIP failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 differing-IP order, got %d", count)
		}

		// Placed-but-not-completed orders do not count.
		count, err = repo.CountCompletedWithOtherIP(ctx, "cust-1", "198.51.100.4")
		if err != nil {
			t.Fatalf("CountCompletedWithOtherIP failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 differing-IP order, got %d", count)
		}
	})

	t.Run("HasCompletedSince", func(t *testing.T) {
		tests := []struct {
			name  string
			since time.Time
			want  bool
		}{
			{"recent order inside window", base.Add(-10 * time.Minute), true},
			{"boundary is inclusive", base.Add(-4 * time.Minute), true},
			{"window too narrow", base.Add(-3 * time.Minute), false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.HasCompletedSince(ctx, "cust-1", tt.since)
				if err != nil {
					t.Fatalf("HasCompletedSince failed: %v", err)
				}
				if got != tt.want {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("RequiresCustomerID", func(t *testing.T) {
		if _, err := repo.CountCompletedWithOtherIP(ctx, "", "203.0.113.7"); err == nil {
			t.Error("expected error for empty customer id")
		}
		if _, err := repo.HasCompletedSince(ctx, "", base); err == nil {
			t.Error("expected error for empty customer id")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
