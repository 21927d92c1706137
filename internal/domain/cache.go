package domain

import (
	"context"
	"time"
)

// Namespace partitions cached data by kind. Each namespace has its own TTL.
type Namespace string

const (
	NamespaceReport   Namespace = "report"
	NamespaceEvasion  Namespace = "evasion"
	NamespaceVelocity Namespace = "velocity"
)

// DefaultVelocityWindow is the velocity counting window used when none is configured.
const DefaultVelocityWindow = time.Hour

// CacheTTLs holds the expiry of each namespace. Velocity is the counting
// window: a user's count resets once it has elapsed since the first order.
type CacheTTLs struct {
	Report   time.Duration `json:"report"`
	Evasion  time.Duration `json:"evasion"`
	Velocity time.Duration `json:"velocity"`
}

// DefaultCacheTTLs returns the default namespace TTLs.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Report:   10 * time.Minute,
		Evasion:  10 * time.Minute,
		Velocity: DefaultVelocityWindow,
	}
}

// For returns the TTL of ns, falling back to the default for unset values.
func (t CacheTTLs) For(ns Namespace) time.Duration {
	def := DefaultCacheTTLs()
	var ttl, fallback time.Duration
	switch ns {
	case NamespaceReport:
		ttl, fallback = t.Report, def.Report
	case NamespaceEvasion:
		ttl, fallback = t.Evasion, def.Evasion
	case NamespaceVelocity:
		ttl, fallback = t.Velocity, def.Velocity
	}
	if ttl <= 0 {
		return fallback
	}
	return ttl
}

// Cache holds finished audit reports, evasion runs and per-user velocity
// counters. Scores are never cached: they must reflect the current field
// values. Get methods return nil, nil on a miss.
type Cache interface {
	GetReport(ctx context.Context, tenantID, reportID string) (*AuditReport, error)
	PutReport(ctx context.Context, tenantID string, report *AuditReport) error

	GetEvasion(ctx context.Context, tenantID, runID string) (*EvasionRun, error)
	PutEvasion(ctx context.Context, tenantID string, run *EvasionRun) error

	// Evict drops one cached report or evasion run.
	Evict(ctx context.Context, tenantID string, ns Namespace, id string) error

	// CountOrder records one order for userID and returns the number of
	// orders in the user's current velocity window, this one included.
	CountOrder(ctx context.Context, tenantID, userID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis"
	Type string `json:"type"`

	TTLs CacheTTLs `json:"ttls"`

	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTTL"` // L1 cap in two-phase mode

	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDB,omitempty"`

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool `json:"enableTwoPhase"`
}
