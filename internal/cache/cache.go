// Package cache holds finished reports, evasion runs and velocity counters
// for fraudsim, in memory or in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// entryKey addresses one cached value.
type entryKey struct {
	tenantID string
	ns       domain.Namespace
	id       string
}

func (k entryKey) String() string {
	return k.tenantID + ":" + string(k.ns) + ":" + k.id
}

// store is the backend of a Cache. TTLs are resolved before a store is called.
type store interface {
	get(ctx context.Context, key entryKey) ([]byte, error)
	put(ctx context.Context, key entryKey, value []byte, ttl time.Duration) error
	del(ctx context.Context, key entryKey) error
	incr(ctx context.Context, key entryKey, window time.Duration) (int64, error)
	ping(ctx context.Context) error
	close() error
}

// Cache implements domain.Cache on a memory, Redis or two-phase store.
type Cache struct {
	store store
	ttls  domain.CacheTTLs
	kind  string
}

var _ domain.Cache = (*Cache)(nil)

// New creates the cache selected by cfg.Type. Redis with two-phase enabled
// reads through a local LRU.
func New(cfg domain.CacheConfig) (*Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.LocalMaxSize, cfg.TTLs), nil

	case "redis":
		remote, err := newRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return &Cache{store: remote, ttls: cfg.TTLs, kind: "redis"}, nil
		}
		l1TTL := cfg.LocalTTL
		if l1TTL <= 0 {
			l1TTL = 5 * time.Minute
		}
		tp := &twoPhaseStore{local: newLRUStore(cfg.LocalMaxSize), remote: remote, l1TTL: l1TTL}
		return &Cache{store: tp, ttls: cfg.TTLs, kind: "two-phase"}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewMemory creates an in-process cache holding at most maxSize reports and runs.
func NewMemory(maxSize int, ttls domain.CacheTTLs) *Cache {
	return &Cache{store: newLRUStore(maxSize), ttls: ttls, kind: "memory"}
}

// Kind reports the backend: "memory", "redis" or "two-phase".
func (c *Cache) Kind() string {
	return c.kind
}

// TTL returns the expiry applied to ns.
func (c *Cache) TTL(ns domain.Namespace) time.Duration {
	return c.ttls.For(ns)
}

// GetReport returns a cached audit report.
func (c *Cache) GetReport(ctx context.Context, tenantID, reportID string) (*domain.AuditReport, error) {
	var report domain.AuditReport
	ok, err := c.getJSON(ctx, tenantID, domain.NamespaceReport, reportID, &report)
	if !ok {
		return nil, err
	}
	return &report, nil
}

// PutReport caches report under its ID for the report TTL.
func (c *Cache) PutReport(ctx context.Context, tenantID string, report *domain.AuditReport) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}
	return c.putJSON(ctx, tenantID, domain.NamespaceReport, report.ID, report)
}

// GetEvasion returns a cached evasion run.
func (c *Cache) GetEvasion(ctx context.Context, tenantID, runID string) (*domain.EvasionRun, error) {
	var run domain.EvasionRun
	ok, err := c.getJSON(ctx, tenantID, domain.NamespaceEvasion, runID, &run)
	if !ok {
		return nil, err
	}
	return &run, nil
}

// PutEvasion caches run under its ID for the evasion TTL.
func (c *Cache) PutEvasion(ctx context.Context, tenantID string, run *domain.EvasionRun) error {
	if run == nil {
		return fmt.Errorf("evasion run is required")
	}
	return c.putJSON(ctx, tenantID, domain.NamespaceEvasion, run.ID, run)
}

// Evict drops a cached report or evasion run. Velocity counters only expire.
func (c *Cache) Evict(ctx context.Context, tenantID string, ns domain.Namespace, id string) error {
	if ns == domain.NamespaceVelocity {
		return fmt.Errorf("velocity counters cannot be evicted")
	}
	key, err := makeKey(tenantID, ns, id)
	if err != nil {
		return err
	}
	return c.store.del(ctx, key)
}

// CountOrder increments the user's velocity counter. The window opens at
// the first order and lasts for the velocity TTL.
func (c *Cache) CountOrder(ctx context.Context, tenantID, userID string) (int64, error) {
	key, err := makeKey(tenantID, domain.NamespaceVelocity, userID)
	if err != nil {
		return 0, err
	}
	return c.store.incr(ctx, key, c.ttls.For(domain.NamespaceVelocity))
}

// Ping checks backend health.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.close()
}

func (c *Cache) getJSON(ctx context.Context, tenantID string, ns domain.Namespace, id string, dst any) (bool, error) {
	key, err := makeKey(tenantID, ns, id)
	if err != nil {
		return false, err
	}
	data, err := c.store.get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) putJSON(ctx context.Context, tenantID string, ns domain.Namespace, id string, v any) error {
	key, err := makeKey(tenantID, ns, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.store.put(ctx, key, data, c.ttls.For(ns))
}

func makeKey(tenantID string, ns domain.Namespace, id string) (entryKey, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return entryKey{}, err
	}
	if id == "" {
		return entryKey{}, fmt.Errorf("%s id is required", ns)
	}
	return entryKey{tenantID: tenantID, ns: ns, id: id}, nil
}

// twoPhaseStore reads through a local LRU in front of Redis. Counters live
// in Redis only so that every node sees the same velocity.
type twoPhaseStore struct {
	local  *lruStore
	remote *redisStore
	l1TTL  time.Duration
}

func (s *twoPhaseStore) get(ctx context.Context, key entryKey) ([]byte, error) {
	val, err := s.local.get(ctx, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = s.remote.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = s.local.put(ctx, key, val, s.l1TTL)
	}
	return val, nil
}

func (s *twoPhaseStore) put(ctx context.Context, key entryKey, value []byte, ttl time.Duration) error {
	if err := s.local.put(ctx, key, value, min(ttl, s.l1TTL)); err != nil {
		return err
	}
	return s.remote.put(ctx, key, value, ttl)
}

func (s *twoPhaseStore) del(ctx context.Context, key entryKey) error {
	if err := s.local.del(ctx, key); err != nil {
		return err
	}
	return s.remote.del(ctx, key)
}

func (s *twoPhaseStore) incr(ctx context.Context, key entryKey, window time.Duration) (int64, error) {
	return s.remote.incr(ctx, key, window)
}

func (s *twoPhaseStore) ping(ctx context.Context) error {
	if err := s.remote.ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (s *twoPhaseStore) close() error {
	_ = s.local.close()
	return s.remote.close()
}
