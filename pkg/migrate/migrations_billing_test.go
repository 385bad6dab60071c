package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %q", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestUsageEventsMigrationContainsPartialUniques(t *testing.T) {
	content := readMigration(t, "*_create_usage_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS usage_events",
		"CHECK (quantity > 0)",
		"CHECK (amount_minor_units >= 0)",
		"CREATE INDEX IF NOT EXISTS ix_usage_events_tenant_period",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_usage_events_subject_event",
		"WHERE subject_id IS NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_usage_events_tenant_event_idem",
		"WHERE idempotency_key IS NOT NULL",
		"DROP TABLE IF EXISTS usage_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestInvoicesMigrationContainsSchemas(t *testing.T) {
	content := readMigration(t, "*_create_invoices.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS invoices",
		"CREATE TABLE IF NOT EXISTS invoice_lines",
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_tenant_period",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_invoice_lines_invoice_usage_event",
		"FOREIGN KEY (invoice_id) REFERENCES invoices (id) ON DELETE CASCADE",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_external_id",
		"WHERE external_id IS NOT NULL",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTenantBillingMigrationContainsUniqueTenant(t *testing.T) {
	content := readMigration(t, "*_create_tenant_billing.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS billing_plans",
		"CREATE TABLE IF NOT EXISTS tenant_billings",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_plans_tenant",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_tenant_billing_tenant",
		"FOREIGN KEY (plan_id) REFERENCES billing_plans (id)",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
