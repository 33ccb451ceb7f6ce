package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads the leads table owned by the lead management system.
// No writes happen here.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Provider = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, id string) (Lead, error) {
	lead := Lead{ID: id}
	err := p.pool.QueryRow(ctx, `
		SELECT phone, source, COALESCE(full_name, ''), COALESCE(loan_amount, 0)
		FROM leads
		WHERE id = $1`,
		id,
	).Scan(&lead.Phone, &lead.Source, &lead.FullName, &lead.LoanAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("leads/postgres: load lead %s: %w", id, err)
	}
	return lead, nil
}
