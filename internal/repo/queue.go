package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

var (
	ErrNotFound          = errors.New("queue: entry not found")
	ErrInvalidEntry      = errors.New("queue: invalid entry")
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	ErrBadPageToken      = errors.New("queue: malformed page token")
)

// CreateEntryRequest is what the resolver emits for each notification to
// schedule. Lender fields are required for lender_success entries and must
// be absent for fallback_campaign entries.
type CreateEntryRequest struct {
	LeadID        string
	Phone         string
	Kind          model.Kind
	LenderName    string
	Priority      int
	ScheduledTime time.Time
}

func (r CreateEntryRequest) Validate() error {
	switch {
	case r.LeadID == "":
		return fmt.Errorf("%w: missing lead id", ErrInvalidEntry)
	case r.Phone == "":
		return fmt.Errorf("%w: missing phone", ErrInvalidEntry)
	case r.ScheduledTime.IsZero():
		return fmt.Errorf("%w: missing scheduled time", ErrInvalidEntry)
	}

	switch r.Kind {
	case model.KindLenderSuccess:
		if r.LenderName == "" {
			return fmt.Errorf("%w: lender_success requires a lender name", ErrInvalidEntry)
		}
		if r.Priority < 1 {
			return fmt.Errorf("%w: lender_success requires priority >= 1", ErrInvalidEntry)
		}
	case model.KindFallbackCampaign:
		if r.LenderName != "" || r.Priority != 0 {
			return fmt.Errorf("%w: fallback_campaign must not carry lender fields", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, r.Kind)
	}
	return nil
}

// DueQuery selects pending entries eligible for dispatch: scheduled at or
// before Now with fewer than MaxAttempts attempts.
type DueQuery struct {
	Now         time.Time
	MaxAttempts int
	Limit       int
	// PageToken continues a previous FindDue page; empty means first page.
	PageToken string
}

// Queue is the durable store of outbound notification entries. All status
// transitions are conditional on the current status, so concurrent callers
// cannot double-apply a transition.
type Queue interface {
	Create(ctx context.Context, req CreateEntryRequest) (model.QueueEntry, error)
	FindDue(ctx context.Context, q DueQuery) (entries []model.QueueEntry, nextPage string, err error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, renderedPayload, gatewayResponse string) error
	MarkFailed(ctx context.Context, id string, reason, renderedPayload, gatewayResponse string, terminal bool) error
	CancelByLead(ctx context.Context, leadID string) (int, error)
	FindByLead(ctx context.Context, leadID string) ([]model.QueueEntry, error)
	RescheduleFailed(ctx context.Context, now time.Time, maxAttempts int) (int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

// Page tokens are a keyset cursor over (scheduledTime, id).

func encodePageToken(scheduled time.Time, id string) string {
	return scheduled.UTC().Format(time.RFC3339Nano) + "|" + id
}

func decodePageToken(token string) (scheduled time.Time, id string, err error) {
	raw, id, ok := strings.Cut(token, "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrBadPageToken
	}
	scheduled, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrBadPageToken, token)
	}
	return scheduled, id, nil
}
