// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
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
		now:    func() time.Time { return time.Now().UTC() },
	}

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

// SaveOrder stores an order with tenant isolation. Saving an existing ID
// replaces the stored order but keeps its original ingest time.
func (r *SQLRepository) SaveOrder(ctx context.Context, tenantID string, order *domain.Order) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if order == nil || order.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	query := `
		INSERT INTO orders (id, tenant_id, user_id, amount, fraud_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			user_id = excluded.user_id,
			amount = excluded.amount,
			fraud_type = excluded.fraud_type,
			payload = excluded.payload
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		order.ID, tenantID, order.UserID, nullFloat(order.Amount), nullString(order.FraudType),
		string(payload), r.now(),
	)
	return err
}

// GetOrder retrieves an order by ID with tenant isolation.
func (r *SQLRepository) GetOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var order domain.Order
	if err := r.getPayload(ctx, "orders", tenantID, orderID, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CountOrdersByUser counts orders for a user ingested at or after since.
func (r *SQLRepository) CountOrdersByUser(ctx context.Context, tenantID string, userID string, since time.Time) (int64, error) {
	if tenantID == "" || userID == "" {
		return 0, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM orders
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := r.now()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Weight, enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves all enabled rule configurations for a tenant in
// creation order.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveAuditReport stores an audit report with tenant isolation.
func (r *SQLRepository) SaveAuditReport(ctx context.Context, tenantID string, report *domain.AuditReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT INTO audit_reports (id, tenant_id, order_count, fraud_count, detected_count, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, len(report.PerRecord),
		report.Metrics.FraudCount, report.Metrics.DetectedCount,
		string(payload), report.CreatedAt,
	)
	return err
}

// GetAuditReport retrieves an audit report by ID with tenant isolation.
func (r *SQLRepository) GetAuditReport(ctx context.Context, tenantID string, reportID string) (*domain.AuditReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var report domain.AuditReport
	if err := r.getPayload(ctx, "audit_reports", tenantID, reportID, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SaveEvasionRun stores an evasion run with tenant isolation.
func (r *SQLRepository) SaveEvasionRun(ctx context.Context, tenantID string, run *domain.EvasionRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode evasion run: %w", err)
	}

	query := `
		INSERT INTO evasion_runs (id, tenant_id, order_id, original_score, best_score, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.OrderID, run.OriginalScore, run.BestScore,
		string(payload), run.CreatedAt,
	)
	return err
}

// GetEvasionRun retrieves an evasion run by ID with tenant isolation.
func (r *SQLRepository) GetEvasionRun(ctx context.Context, tenantID string, runID string) (*domain.EvasionRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var run domain.EvasionRun
	if err := r.getPayload(ctx, "evasion_runs", tenantID, runID, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// getPayload loads and decodes the JSON payload column of a row. table is
// never user input.
func (r *SQLRepository) getPayload(ctx context.Context, table, tenantID, id string, dst any) error {
	query := "SELECT payload FROM " + table + " WHERE tenant_id = ? AND id = ?"

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", table, err)
	}
	return nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
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

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
