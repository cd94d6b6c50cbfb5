// Package policy classifies suspicion scores against the configured
// checklist and blocklist thresholds.
package policy

import (
	"context"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// Decide classifies a total suspicion score. Scores at or below the
// checklist cap are clean; above the blocklist cap they trigger the
// blocklist side effects. Both comparisons are strict.
func Decide(score int, cfg domain.DecisionConfig) domain.Decision {
	switch {
	case score > cfg.BlocklistCap:
		return domain.DecisionBlocklisted
	case score > cfg.ChecklistCap:
		return domain.DecisionChecklisted
	default:
		return domain.DecisionNone
	}
}

// Service manages the persisted decision configuration.
type Service struct {
	repo domain.Repository
}

// NewService creates a policy service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Current returns the active decision configuration.
func (s *Service) Current(ctx context.Context) (domain.DecisionConfig, error) {
	return s.repo.GetDecisionConfig(ctx)
}

// Update validates and persists a new decision configuration. Invalid
// thresholds are rejected without touching the stored config.
func (s *Service) Update(ctx context.Context, cfg domain.DecisionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.repo.SaveDecisionConfig(ctx, cfg)
}
