package database

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assignment_rules (
		id {{ID}},
		tenant_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		strategy VARCHAR(32) NOT NULL,
		priority_order INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		criteria {{JSON}} NOT NULL,
		allow_overflow BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assignment_rules_tenant_order ON assignment_rules (tenant_id, active, priority_order, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS assignment_rules_active_priority ON assignment_rules (tenant_id, priority_order) WHERE active`,

	`CREATE TABLE IF NOT EXISTS rule_cursors (
		tenant_id BIGINT NOT NULL,
		rule_id BIGINT NOT NULL,
		last_user_id BIGINT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at {{TS}} NOT NULL,
		PRIMARY KEY (tenant_id, rule_id)
	)`,

	`CREATE TABLE IF NOT EXISTS territories (
		id {{ID}},
		tenant_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		industries {{JSON}} NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS territories_tenant_name ON territories (tenant_id, name)`,
	`CREATE TABLE IF NOT EXISTS territory_members (
		territory_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		created_at {{TS}} NOT NULL,
		PRIMARY KEY (territory_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS workload_records (
		tenant_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		active_leads_count INTEGER NOT NULL DEFAULT 0 CHECK (active_leads_count >= 0),
		max_capacity INTEGER NOT NULL CHECK (max_capacity > 0),
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at {{TS}} NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS queue_entries (
		id {{ID}},
		tenant_id BIGINT NOT NULL,
		lead_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		priority_score INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error TEXT,
		claimed_by VARCHAR(64),
		claimed_at {{TS}},
		last_attempt_at {{TS}},
		eligible_at {{TS}} NOT NULL,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS queue_entries_active_lead ON queue_entries (tenant_id, lead_id) WHERE status IN ('PENDING', 'IN_PROGRESS')`,
	`CREATE INDEX IF NOT EXISTS queue_entries_dequeue ON queue_entries (tenant_id, status, eligible_at)`,

	`CREATE TABLE IF NOT EXISTS assignment_history (
		id {{ID}},
		tenant_id BIGINT NOT NULL,
		lead_id BIGINT NOT NULL,
		assigned_user_id BIGINT NOT NULL,
		rule_id BIGINT,
		method VARCHAR(32) NOT NULL,
		reason TEXT NOT NULL,
		created_at {{TS}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assignment_history_lead ON assignment_history (tenant_id, lead_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS assignment_releases (
		history_id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		lead_id BIGINT NOT NULL,
		released_at {{TS}} NOT NULL
	)`,
}

// Migrate creates every table and index used by the router. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	replacer := schemaReplacer(c.dialect)
	for _, stmt := range schemaStatements {
		if _, err := c.DB.ExecContext(ctx, replacer.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schemaReplacer(d string) *strings.Replacer {
	if d == dialect.Postgres {
		return strings.NewReplacer(
			"{{ID}}", "BIGSERIAL PRIMARY KEY",
			"{{TS}}", "TIMESTAMPTZ",
			"{{JSON}}", "JSONB",
		)
	}
	return strings.NewReplacer(
		"{{ID}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{TS}}", "TIMESTAMP",
		"{{JSON}}", "TEXT",
	)
}
