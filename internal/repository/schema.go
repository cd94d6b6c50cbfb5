package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    anonymous INTEGER NOT NULL DEFAULT 0,
    ip_address TEXT NOT NULL DEFAULT '',
    billing TEXT NOT NULL,
    items TEXT NOT NULL,
    total_price REAL NOT NULL,
    currency TEXT NOT NULL,
    state TEXT NOT NULL,
    placed_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
CREATE INDEX IF NOT EXISTS idx_orders_customer_state ON orders(customer_id, state);
CREATE INDEX IF NOT EXISTS idx_orders_completed ON orders(customer_id, completed_at);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    kind TEXT NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    params TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_position ON fraud_rules(position);
CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(enabled);
`

const schemaSuspicionRecords = `
CREATE TABLE IF NOT EXISTS suspicion_records (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL UNIQUE,
    matched_rules TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suspicion_order ON suspicion_records(order_id);
`

// schemaDecisionConfig holds the single row of decision thresholds.
const schemaDecisionConfig = `
CREATE TABLE IF NOT EXISTS decision_config (
    id INTEGER PRIMARY KEY,
    checklist_cap INTEGER NOT NULL,
    blocklist_cap INTEGER NOT NULL,
    stop_order INTEGER NOT NULL DEFAULT 0,
    notify_address TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);
`

const schemaActivityLog = `
CREATE TABLE IF NOT EXISTS activity_log (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    category TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_log_order ON activity_log(order_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOrders,
		schemaRules,
		schemaSuspicionRecords,
		schemaDecisionConfig,
		schemaActivityLog,
	}
}
