package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Order operations
	SaveOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	UpdateOrderState(ctx context.Context, orderID string, state string) error

	// Order history reads backing the history-dependent rule predicates.
	// Both consider completed orders of the customer only.
	CountCompletedWithOtherIP(ctx context.Context, customerID string, ip string) (int64, error)
	HasCompletedSince(ctx context.Context, customerID string, since time.Time) (bool, error)

	// Rule configuration operations. ListRules returns rules in position
	// (insertion) order.
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// Suspicion records
	SaveSuspicion(ctx context.Context, record *SuspicionRecord) error
	GetSuspicionByOrder(ctx context.Context, orderID string) (*SuspicionRecord, error)
	DeleteSuspicionByOrder(ctx context.Context, orderID string) error

	// Decision configuration (single row, save-time validated by callers).
	SaveDecisionConfig(ctx context.Context, cfg DecisionConfig) error
	GetDecisionConfig(ctx context.Context) (DecisionConfig, error)

	// Activity log
	SaveLogEntry(ctx context.Context, entry *LogEntry) error
	ListLogEntries(ctx context.Context, orderID string) ([]*LogEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
