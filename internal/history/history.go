// Package history answers questions about a customer's prior orders.
package history

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// Service reads completed-order history from the repository. It backs the
// IP-mismatch and rapid-repeat rule predicates.
type Service struct {
	repo   domain.Repository
	tracer trace.Tracer
}

// NewService creates a history service.
func NewService(repo domain.Repository) *Service {
	return &Service{
		repo:   repo,
		tracer: otel.Tracer("kestrel/history"),
	}
}

// HasDifferentIP reports whether the customer has at least one completed
// order placed from an IP address other than ip.
func (s *Service) HasDifferentIP(ctx context.Context, customerID string, ip string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "history.HasDifferentIP",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	count, err := s.repo.CountCompletedWithOtherIP(ctx, customerID, ip)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasCompletedSince reports whether the customer completed an order at or
// after since. The boundary is inclusive.
func (s *Service) HasCompletedSince(ctx context.Context, customerID string, since time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "history.HasCompletedSince",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	return s.repo.HasCompletedSince(ctx, customerID, since)
}
