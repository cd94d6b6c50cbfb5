package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-history-*.db")
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

	return repo
}

func saveOrder(t *testing.T, repo domain.Repository, id, customerID, ip, state string, completedAt time.Time) {
	t.Helper()

	order := &domain.Order{
		ID:          id,
		CustomerID:  customerID,
		IPAddress:   ip,
		State:       state,
		PlacedAt:    completedAt.Add(-time.Hour),
		CompletedAt: completedAt,
		CreatedAt:   completedAt.Add(-time.Hour),
	}
	if state != domain.OrderStateCompleted {
		order.CompletedAt = time.Time{}
	}
	if err := repo.SaveOrder(context.Background(), order); err != nil {
		t.Fatalf("failed to save order: %v", err)
	}
}

func TestHasDifferentIP(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saveOrder(t, repo, "o1", "cust-1", "10.0.0.1", domain.OrderStateCompleted, base)
	saveOrder(t, repo, "o2", "cust-1", "10.0.0.2", domain.OrderStatePlaced, base)
	saveOrder(t, repo, "o3", "cust-2", "10.0.0.3", domain.OrderStateCompleted, base)

	t.Run("SameIPOnly", func(t *testing.T) {
		matched, err := svc.HasDifferentIP(ctx, "cust-1", "10.0.0.1")
		if err != nil {
			t.Fatalf("HasDifferentIP failed: %v", err)
		}
		if matched {
			t.Error("expected no mismatch when all completed orders share the IP")
		}
	})

	t.Run("DifferentIP", func(t *testing.T) {
		matched, err := svc.HasDifferentIP(ctx, "cust-1", "10.0.0.9")
		if err != nil {
			t.Fatalf("HasDifferentIP failed: %v", err)
		}
		if !matched {
			t.Error("expected mismatch against a completed order with another IP")
		}
	})

	t.Run("PlacedOrdersIgnored", func(t *testing.T) {
		// cust-1's only differing-IP order in "placed" state must not count,
		// so a lookup against 10.0.0.2 still finds the completed 10.0.0.1.
		matched, err := svc.HasDifferentIP(ctx, "cust-1", "10.0.0.2")
		if err != nil {
			t.Fatalf("HasDifferentIP failed: %v", err)
		}
		if !matched {
			t.Error("expected the completed order with a different IP to count")
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		matched, err := svc.HasDifferentIP(ctx, "cust-none", "10.0.0.1")
		if err != nil {
			t.Fatalf("HasDifferentIP failed: %v", err)
		}
		if matched {
			t.Error("expected no mismatch for an unknown customer")
		}
	})
}

func TestHasCompletedSince(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo)
	ctx := context.Background()

	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saveOrder(t, repo, "o1", "cust-1", "10.0.0.1", domain.OrderStateCompleted, completed)

	cases := []struct {
		name  string
		since time.Time
		want  bool
	}{
		{"BeforeCompletion", completed.Add(-time.Minute), true},
		{"ExactBoundary", completed, true},
		{"AfterCompletion", completed.Add(time.Minute), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.HasCompletedSince(ctx, "cust-1", tc.since)
			if err != nil {
				t.Fatalf("HasCompletedSince failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("since=%v: expected %v, got %v", tc.since, tc.want, got)
			}
		})
	}

	t.Run("UnknownCustomer", func(t *testing.T) {
		got, err := svc.HasCompletedSince(ctx, "cust-none", completed.Add(-time.Hour))
		if err != nil {
			t.Fatalf("HasCompletedSince failed: %v", err)
		}
		if got {
			t.Error("expected false for an unknown customer")
		}
	})
}
