package repository

// Schema definitions for the fraudsim database.
// Compatible with both SQLite and PostgreSQL.

// schemaOrders stores ingested orders. The full order is kept as JSON in
// payload so optional fields round-trip; the other columns are for queries.
const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    amount REAL,
    fraud_type TEXT,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(tenant_id, user_id, created_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

const schemaAuditReports = `
CREATE TABLE IF NOT EXISTS audit_reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    order_count INTEGER NOT NULL,
    fraud_count INTEGER NOT NULL,
    detected_count INTEGER NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_audit_reports_created ON audit_reports(tenant_id, created_at);
`

const schemaEvasionRuns = `
CREATE TABLE IF NOT EXISTS evasion_runs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    original_score REAL NOT NULL,
    best_score REAL NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_evasion_runs_order ON evasion_runs(tenant_id, order_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOrders,
		schemaRuleConfigs,
		schemaAuditReports,
		schemaEvasionRuns,
	}
}
