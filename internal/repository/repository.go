// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrder stores an order. An existing order with the same id is
// replaced, so repeated ingestion of the same order is safe.
func (r *SQLRepository) SaveOrder(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	billing, _ := json.Marshal(order.Billing)
	items, _ := json.Marshal(order.Items)

	anonymous := 0
	if order.Anonymous {
		anonymous = 1
	}

	var completedAt any
	if !order.CompletedAt.IsZero() {
		completedAt = order.CompletedAt
	}

	query := `
		INSERT INTO orders (
			id, customer_id, anonymous, ip_address, billing, items,
			total_price, currency, state, placed_at, completed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			anonymous = excluded.anonymous,
			ip_address = excluded.ip_address,
			billing = excluded.billing,
			items = excluded.items,
			total_price = excluded.total_price,
			currency = excluded.currency,
			state = excluded.state,
			placed_at = excluded.placed_at,
			completed_at = excluded.completed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		order.ID, order.CustomerID, anonymous, order.IPAddress,
		string(billing), string(items),
		order.TotalPrice, order.Currency, order.State,
		order.PlacedAt, completedAt, order.CreatedAt,
	)
	return err
}

// GetOrder retrieves an order by ID.
func (r *SQLRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, anonymous, ip_address, billing, items,
			   total_price, currency, state, placed_at, completed_at, created_at
		FROM orders
		WHERE id = ?
	`

	var order domain.Order
	var billing, items string
	var anonymous int
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), orderID).Scan(
		&order.ID, &order.CustomerID, &anonymous, &order.IPAddress,
		&billing, &items,
		&order.TotalPrice, &order.Currency, &order.State,
		&order.PlacedAt, &completedAt, &order.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	order.Anonymous = anonymous == 1
	if completedAt.Valid {
		order.CompletedAt = completedAt.Time
	}
	json.Unmarshal([]byte(billing), &order.Billing)
	json.Unmarshal([]byte(items), &order.Items)

	return &order, nil
}

// UpdateOrderState transitions an order to a new state. Completing an
// order also stamps completed_at, which the history queries rely on.
func (r *SQLRepository) UpdateOrderState(ctx context.Context, orderID string, state string) error {
	query := `UPDATE orders SET state = ? WHERE id = ?`
	args := []any{state, orderID}

	if state == domain.OrderStateCompleted {
		query = `UPDATE orders SET state = ?, completed_at = ? WHERE id = ?`
		args = []any{state, time.Now().UTC(), orderID}
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCompletedWithOtherIP counts the customer's completed orders that
// were placed from an IP address other than ip.
func (r *SQLRepository) CountCompletedWithOtherIP(ctx context.Context, customerID string, ip string) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE customer_id = ?
		  AND state = ?
		  AND ip_address != ''
		  AND ip_address != ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, domain.OrderStateCompleted, ip).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// HasCompletedSince reports whether the customer completed an order at or
// after since. The boundary is inclusive.
func (r *SQLRepository) HasCompletedSince(ctx context.Context, customerID string, since time.Time) (bool, error) {
	if customerID == "" {
		return false, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE customer_id = ?
		  AND state = ?
		  AND completed_at IS NOT NULL
		  AND completed_at >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, domain.OrderStateCompleted, since).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveRule stores a rule configuration, replacing any existing rule with
// the same id.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	params, _ := json.Marshal(rule.Params)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_rules (
			id, label, kind, score, enabled, params, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			kind = excluded.kind,
			score = excluded.score,
			enabled = excluded.enabled,
			params = excluded.params,
			position = excluded.position,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Label, rule.Kind, rule.Score, enabled,
		string(params), rule.Position, now, now,
	)
	return err
}

// GetRule retrieves a rule configuration by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `
		SELECT id, label, kind, score, enabled, params, position
		FROM fraud_rules
		WHERE id = ?
	`

	var rule domain.Rule
	var params string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Label, &rule.Kind, &rule.Score, &enabled, &params, &rule.Position,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	json.Unmarshal([]byte(params), &rule.Params)

	return &rule, nil
}

// ListRules retrieves all rule configurations in position order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT id, label, kind, score, enabled, params, position
		FROM fraud_rules
		ORDER BY position, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var params string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Label, &rule.Kind, &rule.Score, &enabled, &params, &rule.Position,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(params), &rule.Params)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveSuspicion stores a suspicion record. One record exists per order;
// re-saving replaces the matched-rule set.
func (r *SQLRepository) SaveSuspicion(ctx context.Context, record *domain.SuspicionRecord) error {
	if record.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	matched, _ := json.Marshal(record.MatchedRules)

	query := `
		INSERT INTO suspicion_records (
			id, order_id, matched_rules, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			matched_rules = excluded.matched_rules,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		record.ID, record.OrderID, string(matched),
		record.CreatedAt, record.UpdatedAt,
	)
	return err
}

// GetSuspicionByOrder retrieves the suspicion record for an order.
func (r *SQLRepository) GetSuspicionByOrder(ctx context.Context, orderID string) (*domain.SuspicionRecord, error) {
	query := `
		SELECT id, order_id, matched_rules, created_at, updated_at
		FROM suspicion_records
		WHERE order_id = ?
	`

	var record domain.SuspicionRecord
	var matched string

	err := r.db.QueryRowContext(ctx, r.rebind(query), orderID).Scan(
		&record.ID, &record.OrderID, &matched, &record.CreatedAt, &record.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(matched), &record.MatchedRules)

	return &record, nil
}

// DeleteSuspicionByOrder removes the suspicion record for an order.
func (r *SQLRepository) DeleteSuspicionByOrder(ctx context.Context, orderID string) error {
	query := `DELETE FROM suspicion_records WHERE order_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), orderID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDecisionConfig stores the decision thresholds. The table holds a
// single row; callers validate before saving.
func (r *SQLRepository) SaveDecisionConfig(ctx context.Context, cfg domain.DecisionConfig) error {
	stopOrder := 0
	if cfg.StopOrder {
		stopOrder = 1
	}

	query := `
		INSERT INTO decision_config (
			id, checklist_cap, blocklist_cap, stop_order, notify_address, updated_at
		) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			checklist_cap = excluded.checklist_cap,
			blocklist_cap = excluded.blocklist_cap,
			stop_order = excluded.stop_order,
			notify_address = excluded.notify_address,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ChecklistCap, cfg.BlocklistCap, stopOrder, cfg.NotifyAddress, time.Now().UTC(),
	)
	return err
}

// GetDecisionConfig retrieves the decision thresholds. Before any config
// has been saved, the defaults are returned.
func (r *SQLRepository) GetDecisionConfig(ctx context.Context) (domain.DecisionConfig, error) {
	query := `
		SELECT checklist_cap, blocklist_cap, stop_order, notify_address
		FROM decision_config
		WHERE id = 1
	`

	var cfg domain.DecisionConfig
	var stopOrder int

	err := r.db.QueryRowContext(ctx, r.rebind(query)).Scan(
		&cfg.ChecklistCap, &cfg.BlocklistCap, &stopOrder, &cfg.NotifyAddress,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultDecisionConfig(), nil
	}
	if err != nil {
		return domain.DecisionConfig{}, err
	}

	cfg.StopOrder = stopOrder == 1
	return cfg, nil
}

// SaveLogEntry appends an activity log entry.
func (r *SQLRepository) SaveLogEntry(ctx context.Context, entry *domain.LogEntry) error {
	if entry.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO activity_log (id, order_id, category, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.OrderID, entry.Category, entry.Message, entry.CreatedAt,
	)
	return err
}

// ListLogEntries retrieves activity log entries for an order, oldest first.
func (r *SQLRepository) ListLogEntries(ctx context.Context, orderID string) ([]*domain.LogEntry, error) {
	query := `
		SELECT id, order_id, category, message, created_at
		FROM activity_log
		WHERE order_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LogEntry
	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(
			&entry.ID, &entry.OrderID, &entry.Category, &entry.Message, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
