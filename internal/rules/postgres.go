package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

// Postgres stores one rcsConfig document per source as JSONB, the same shape
// the operator API exchanges.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS distribution_rules (
			source     TEXT PRIMARY KEY,
			config     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("rules/postgres: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) ActiveRule(ctx context.Context, source string) (model.DistributionRule, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT config FROM distribution_rules WHERE source = $1`, source).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DistributionRule{}, ErrNotFound
	}
	if err != nil {
		return model.DistributionRule{}, fmt.Errorf("rules/postgres: load rule for %s: %w", source, err)
	}
	return decodeRule(source, raw)
}

func (p *Postgres) ListRules(ctx context.Context) ([]model.DistributionRule, error) {
	rows, err := p.pool.Query(ctx, `SELECT source, config FROM distribution_rules ORDER BY source ASC`)
	if err != nil {
		return nil, fmt.Errorf("rules/postgres: list rules: %w", err)
	}
	defer rows.Close()

	var out []model.DistributionRule
	for rows.Next() {
		var source string
		var raw []byte
		if err := rows.Scan(&source, &raw); err != nil {
			return nil, fmt.Errorf("rules/postgres: scan rule row: %w", err)
		}
		rule, err := decodeRule(source, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules/postgres: iterate rule rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) PutRule(ctx context.Context, rule model.DistributionRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("rules/postgres: encode rule for %s: %w", rule.Source, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO distribution_rules (source, config)
		VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()`,
		rule.Source, raw,
	)
	if err != nil {
		return fmt.Errorf("rules/postgres: store rule for %s: %w", rule.Source, err)
	}
	return nil
}

func decodeRule(source string, raw []byte) (model.DistributionRule, error) {
	var rule model.DistributionRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return model.DistributionRule{}, fmt.Errorf("rules/postgres: decode rule for %s: %w", source, err)
	}
	// The source column is authoritative over whatever the blob says.
	rule.Source = source
	return rule, nil
}
