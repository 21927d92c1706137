// Package domain defines the core types and interfaces for fraudsim.
package domain

import (
	"context"
	"time"
)

// Repository persists orders, scoring rules, audit reports and evasion runs.
// All methods are scoped to a tenant.
type Repository interface {
	// Orders
	SaveOrder(ctx context.Context, tenantID string, order *Order) error
	GetOrder(ctx context.Context, tenantID string, orderID string) (*Order, error)
	CountOrdersByUser(ctx context.Context, tenantID string, userID string, since time.Time) (int64, error)

	// CEL scoring rules
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Audit reports
	SaveAuditReport(ctx context.Context, tenantID string, report *AuditReport) error
	GetAuditReport(ctx context.Context, tenantID string, reportID string) (*AuditReport, error)

	// Evasion runs
	SaveEvasionRun(ctx context.Context, tenantID string, run *EvasionRun) error
	GetEvasionRun(ctx context.Context, tenantID string, runID string) (*EvasionRun, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
