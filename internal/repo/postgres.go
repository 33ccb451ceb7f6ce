package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

const entryColumns = `id, lead_id, phone, kind, lender_name, priority, scheduled_time,
	status, attempts, sent_at, failure_reason, rendered_payload, gateway_response,
	created_at, updated_at`

// Postgres is the durable Queue implementation. Status transitions are
// conditional updates on the current status, which makes them safe against
// concurrent ticks and cancellations.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Queue = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Create(ctx context.Context, req CreateEntryRequest) (model.QueueEntry, error) {
	if err := req.Validate(); err != nil {
		return model.QueueEntry{}, err
	}

	var lender *string
	var priority *int
	if req.Kind == model.KindLenderSuccess {
		lender = &req.LenderName
		priority = &req.Priority
	}

	e := model.QueueEntry{
		ID:            uuid.NewString(),
		LeadID:        req.LeadID,
		Phone:         req.Phone,
		Kind:          req.Kind,
		LenderName:    req.LenderName,
		Priority:      req.Priority,
		ScheduledTime: req.ScheduledTime,
		Status:        model.StatusPending,
	}

	err := p.pool.QueryRow(ctx, `
		INSERT INTO rcs_queue_entries (id, lead_id, phone, kind, lender_name, priority, scheduled_time, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0)
		RETURNING created_at, updated_at`,
		e.ID, e.LeadID, e.Phone, string(e.Kind), lender, priority, e.ScheduledTime,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("queue/postgres: create entry: %w", err)
	}
	return e, nil
}

func (p *Postgres) FindDue(ctx context.Context, q DueQuery) ([]model.QueueEntry, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if q.PageToken == "" {
		rows, err = p.pool.Query(ctx, `
			SELECT `+entryColumns+`
			FROM rcs_queue_entries
			WHERE status = 'pending' AND scheduled_time <= $1 AND attempts < $2
			ORDER BY scheduled_time ASC, id ASC
			LIMIT $3`,
			q.Now, q.MaxAttempts, limit+1,
		)
	} else {
		var afterTime time.Time
		var afterID string
		afterTime, afterID, err = decodePageToken(q.PageToken)
		if err != nil {
			return nil, "", err
		}
		rows, err = p.pool.Query(ctx, `
			SELECT `+entryColumns+`
			FROM rcs_queue_entries
			WHERE status = 'pending' AND scheduled_time <= $1 AND attempts < $2
			  AND (scheduled_time, id) > ($4, $5)
			ORDER BY scheduled_time ASC, id ASC
			LIMIT $3`,
			q.Now, q.MaxAttempts, limit+1, afterTime, afterID,
		)
	}
	if err != nil {
		return nil, "", fmt.Errorf("queue/postgres: find due: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[limit-1]
		next = encodePageToken(last.ScheduledTime, last.ID)
	}
	return entries, next, nil
}

func (p *Postgres) MarkSent(ctx context.Context, id string, sentAt time.Time, renderedPayload, gatewayResponse string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rcs_queue_entries
		SET status = 'sent', sent_at = $2, rendered_payload = $3, gateway_response = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, sentAt, renderedPayload, gatewayResponse,
	)
	if err != nil {
		return fmt.Errorf("queue/postgres: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.transitionFailure(ctx, id)
	}
	return nil
}

func (p *Postgres) MarkFailed(ctx context.Context, id string, reason, renderedPayload, gatewayResponse string, terminal bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rcs_queue_entries
		SET attempts = attempts + 1,
		    status = CASE WHEN $2 THEN 'failed' ELSE status END,
		    failure_reason = CASE WHEN $2 THEN $3 ELSE failure_reason END,
		    rendered_payload = $4,
		    gateway_response = $5,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, terminal, reason, renderedPayload, gatewayResponse,
	)
	if err != nil {
		return fmt.Errorf("queue/postgres: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.transitionFailure(ctx, id)
	}
	return nil
}

// transitionFailure distinguishes a missing entry from one whose status
// already moved on when a conditional update touched zero rows.
func (p *Postgres) transitionFailure(ctx context.Context, id string) error {
	var status string
	err := p.pool.QueryRow(ctx, `SELECT status FROM rcs_queue_entries WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("queue/postgres: look up entry %s: %w", id, err)
	}
	return ErrInvalidTransition
}

func (p *Postgres) CancelByLead(ctx context.Context, leadID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rcs_queue_entries
		SET status = 'cancelled', updated_at = now()
		WHERE lead_id = $1 AND status = 'pending'`,
		leadID,
	)
	if err != nil {
		return 0, fmt.Errorf("queue/postgres: cancel by lead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) FindByLead(ctx context.Context, leadID string) ([]model.QueueEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM rcs_queue_entries
		WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC`,
		leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: find by lead: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (p *Postgres) RescheduleFailed(ctx context.Context, now time.Time, maxAttempts int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rcs_queue_entries
		SET status = 'pending', scheduled_time = $1, failure_reason = NULL, updated_at = now()
		WHERE status = 'failed' AND attempts < $2`,
		now, maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("queue/postgres: reschedule failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM rcs_queue_entries
		GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: count by status: %w", err)
	}
	defer rows.Close()

	counts := map[model.Status]int{
		model.StatusPending:   0,
		model.StatusSent:      0,
		model.StatusFailed:    0,
		model.StatusCancelled: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("queue/postgres: scan count row: %w", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue/postgres: iterate count rows: %w", err)
	}
	return counts, nil
}

func scanEntry(row pgx.Row) (model.QueueEntry, error) {
	var (
		e        model.QueueEntry
		kind     string
		status   string
		lender   *string
		priority *int
	)
	err := row.Scan(
		&e.ID, &e.LeadID, &e.Phone, &kind, &lender, &priority, &e.ScheduledTime,
		&status, &e.Attempts, &e.SentAt, &e.FailureReason, &e.RenderedPayload, &e.GatewayResponse,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.QueueEntry{}, err
	}

	e.Kind = model.Kind(kind)
	e.Status = model.Status(status)
	if lender != nil {
		e.LenderName = *lender
	}
	if priority != nil {
		e.Priority = *priority
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("queue/postgres: scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue/postgres: iterate entry rows: %w", err)
	}
	return entries, nil
}
