package repo

import (
	"context"
	"fmt"
)

// EnsureSchema creates the queue table and its indexes if they are absent.
// Every statement is idempotent so the service can run it on boot.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rcs_queue_entries (
			id               TEXT PRIMARY KEY,
			lead_id          TEXT NOT NULL,
			phone            TEXT NOT NULL,
			kind             TEXT NOT NULL,
			lender_name      TEXT,
			priority         INTEGER,
			scheduled_time   TIMESTAMPTZ NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			attempts         INTEGER NOT NULL DEFAULT 0,
			sent_at          TIMESTAMPTZ,
			failure_reason   TEXT,
			rendered_payload TEXT,
			gateway_response TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rcs_queue_due
			ON rcs_queue_entries (scheduled_time ASC, id ASC)
			WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_rcs_queue_lead
			ON rcs_queue_entries (lead_id)`,
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("queue/postgres: ensure schema: %w", err)
		}
	}
	return nil
}
