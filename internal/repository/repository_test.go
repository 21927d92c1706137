package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fraudsim-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetOrder", func(t *testing.T) {
		order := &domain.Order{
			ID:              "ord-001",
			UserID:          "user-001",
			Email:           "user@example.com",
			Amount:          domain.Float(42.5),
			BillingCountry:  domain.String("US"),
			ShippingCountry: domain.String("NG"),
			IP:              domain.String("41.190.1.2"),
			Items:           []domain.LineItem{{SKU: domain.TestItemSKU, UnitPrice: 1, Quantity: 1}},
			FraudType:       domain.String("card_testing"),
			Successful:      domain.Bool(false),
			Metadata:        map[string]any{"source": "api"},
		}

		if err := repo.SaveOrder(ctx, tenantID, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}

		retrieved, err := repo.GetOrder(ctx, tenantID, order.ID)
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if !reflect.DeepEqual(retrieved, order) {
			t.Errorf("order did not round-trip:\n got %+v\nwant %+v", retrieved, order)
		}
		if retrieved.Velocity != nil {
			t.Error("absent velocity must stay absent")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetOrder(ctx, "tenant-002", "ord-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveOrder(ctx, "", &domain.Order{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetOrder(ctx, "", "ord-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveOrder(ctx, tenantID, &domain.Order{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing order id, got %v", err)
		}
	})

	t.Run("CountOrdersByUser", func(t *testing.T) {
		for _, id := range []string{"ord-002", "ord-003"} {
			if err := repo.SaveOrder(ctx, tenantID, &domain.Order{ID: id, UserID: "user-001"}); err != nil {
				t.Fatalf("SaveOrder failed: %v", err)
			}
		}
		if err := repo.SaveOrder(ctx, tenantID, &domain.Order{ID: "ord-004", UserID: "user-002"}); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}

		count, err := repo.CountOrdersByUser(ctx, tenantID, "user-001", time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountOrdersByUser failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 orders, got %d", count)
		}

		count, _ = repo.CountOrdersByUser(ctx, tenantID, "user-001", time.Now().Add(time.Hour))
		if count != 0 {
			t.Errorf("expected 0 orders in a future window, got %d", count)
		}

		count, _ = repo.CountOrdersByUser(ctx, "tenant-002", "user-001", time.Now().Add(-time.Hour))
		if count != 0 {
			t.Errorf("expected 0 orders for another tenant, got %d", count)
		}
	})

	t.Run("UpsertOrder", func(t *testing.T) {
		order := &domain.Order{ID: "ord-001", UserID: "user-001", Amount: domain.Float(99)}
		if err := repo.SaveOrder(ctx, tenantID, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
		retrieved, _ := repo.GetOrder(ctx, tenantID, "ord-001")
		if *retrieved.Amount != 99 {
			t.Errorf("expected updated amount 99, got %v", *retrieved.Amount)
		}
	})

	t.Run("RuleConfigs", func(t *testing.T) {
		rules := []*domain.RuleConfig{
			{ID: "b-rule", Name: "B", Version: "1", Expression: "has_ip", Weight: 0.2, Enabled: true},
			{ID: "a-rule", Name: "A", Version: "1", Expression: "true", Weight: 0.1, Enabled: true},
			{ID: "off", Name: "Off", Version: "1", Expression: "true", Weight: 1, Enabled: false},
		}
		for _, r := range rules {
			if err := repo.SaveRuleConfig(ctx, tenantID, r); err != nil {
				t.Fatalf("SaveRuleConfig failed: %v", err)
			}
		}

		listed, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 enabled rules, got %d", len(listed))
		}
		for _, r := range listed {
			if r.TenantID != tenantID {
				t.Errorf("expected tenant %s, got %s", tenantID, r.TenantID)
			}
		}

		// Same id and version updates in place.
		updated := *rules[0]
		updated.Weight = 0.9
		if err := repo.SaveRuleConfig(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SaveRuleConfig update failed: %v", err)
		}
		listed, _ = repo.ListRuleConfigs(ctx, tenantID)
		found := false
		for _, r := range listed {
			if r.ID == "b-rule" && r.Weight == 0.9 {
				found = true
			}
		}
		if !found || len(listed) != 2 {
			t.Errorf("expected b-rule updated in place, got %+v", listed)
		}

		other, _ := repo.ListRuleConfigs(ctx, "tenant-002")
		if len(other) != 0 {
			t.Errorf("expected no rules for another tenant, got %d", len(other))
		}
	})

	t.Run("AuditReports", func(t *testing.T) {
		rate := 0.5
		report := &domain.AuditReport{
			ID:        "rep-001",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Threshold: 0.7,
			PerRecord: []domain.OrderResult{{OrderID: "ord-001", Score: 0.8, Detected: true, Tags: []string{"card_testing"}}},
			PerReview: []domain.ReviewResult{},
			Metrics:   domain.AuditMetrics{FraudSuccessRate: &rate, FraudCount: 2, DetectedCount: 1},
			Summary: domain.AuditSummary{
				FraudTypeDistribution: map[string]int{"card_testing": 2},
				AmountHistogram:       domain.Histogram{Min: 1, Max: 1, Counts: []int{1}},
			},
		}

		if err := repo.SaveAuditReport(ctx, tenantID, report); err != nil {
			t.Fatalf("SaveAuditReport failed: %v", err)
		}

		retrieved, err := repo.GetAuditReport(ctx, tenantID, report.ID)
		if err != nil {
			t.Fatalf("GetAuditReport failed: %v", err)
		}
		if !reflect.DeepEqual(retrieved, report) {
			t.Errorf("report did not round-trip:\n got %+v\nwant %+v", retrieved, report)
		}

		if _, err := repo.GetAuditReport(ctx, "tenant-002", report.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got %v", err)
		}
	})

	t.Run("EvasionRuns", func(t *testing.T) {
		run := &domain.EvasionRun{
			ID:            "run-001",
			OrderID:       "ord-001",
			CreatedAt:     time.Now().UTC().Truncate(time.Second),
			MaxAttempts:   100,
			Original:      &domain.Order{ID: "ord-001", ShippingCountry: domain.String("NG")},
			Best:          &domain.Order{ID: "ord-001", ShippingCountry: domain.String("US")},
			OriginalScore: 0.8,
			BestScore:     0.5,
			Improved:      true,
			ChangedFields: []domain.Field{domain.FieldShippingCountry},
		}

		if err := repo.SaveEvasionRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveEvasionRun failed: %v", err)
		}

		retrieved, err := repo.GetEvasionRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetEvasionRun failed: %v", err)
		}
		if !reflect.DeepEqual(retrieved, run) {
			t.Errorf("run did not round-trip:\n got %+v\nwant %+v", retrieved, run)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetOrder(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAuditReport(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetEvasionRun(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestDataSource(t *testing.T) {
	t.Run("PostgresDefaults", func(t *testing.T) {
		driver, dsn, err := dataSource(domain.RepositoryConfig{Driver: "postgres"})
		if err != nil {
			t.Fatalf("dataSource failed: %v", err)
		}
		want := "postgres://localhost:5432/fraudsim?application_name=fraudsim&sslmode=disable"
		if driver != "postgres" || dsn != want {
			t.Errorf("got %s %q, want %q", driver, dsn, want)
		}
	})

	t.Run("PostgresEscapesCredentials", func(t *testing.T) {
		_, dsn, _ := dataSource(domain.RepositoryConfig{
			Driver:           "postgres",
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "fraud sim",
			PostgresPassword: "p@ss word/'x",
			PostgresSSLMode:  "require",
		})
		u, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("dsn is not a valid URL: %v", err)
		}
		pass, _ := u.User.Password()
		if u.User.Username() != "fraud sim" || pass != "p@ss word/'x" {
			t.Errorf("credentials did not round-trip: %q", dsn)
		}
		if u.Host != "db.internal:6432" || u.Query().Get("sslmode") != "require" {
			t.Errorf("unexpected dsn %q", dsn)
		}
	})

	t.Run("SQLiteMemory", func(t *testing.T) {
		driver, dsn, err := dataSource(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: MemoryPath})
		if err != nil {
			t.Fatalf("dataSource failed: %v", err)
		}
		if driver != "sqlite" || !strings.HasPrefix(dsn, "file::memory:?") {
			t.Errorf("unexpected in-memory dsn %s %q", driver, dsn)
		}
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		if _, _, err := dataSource(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestMemoryRepository(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	order := &domain.Order{ID: "mem-001", UserID: "user-001", Amount: domain.Float(5)}
	if err := repo.SaveOrder(ctx, "tenant-001", order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	got, err := repo.GetOrder(ctx, "tenant-001", "mem-001")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.UserID != "user-001" || got.Amount == nil || *got.Amount != 5 {
		t.Errorf("unexpected order: %+v", got)
	}
}
