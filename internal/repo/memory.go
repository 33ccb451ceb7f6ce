package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

// Memory is an in-process Queue for tests and local development. It applies
// the same conditional-transition contract as the postgres store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*model.QueueEntry
}

var _ Queue = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*model.QueueEntry)}
}

func (m *Memory) Create(_ context.Context, req CreateEntryRequest) (model.QueueEntry, error) {
	if err := req.Validate(); err != nil {
		return model.QueueEntry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	e := &model.QueueEntry{
		ID:            uuid.NewString(),
		LeadID:        req.LeadID,
		Phone:         req.Phone,
		Kind:          req.Kind,
		LenderName:    req.LenderName,
		Priority:      req.Priority,
		ScheduledTime: req.ScheduledTime,
		Status:        model.StatusPending,
		Attempts:      0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.entries[e.ID] = e
	return *e, nil
}

func (m *Memory) FindDue(_ context.Context, q DueQuery) ([]model.QueueEntry, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var afterTime time.Time
	var afterID string
	if q.PageToken != "" {
		var err error
		afterTime, afterID, err = decodePageToken(q.PageToken)
		if err != nil {
			return nil, "", err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*model.QueueEntry
	for _, e := range m.entries {
		if e.Status != model.StatusPending || e.ScheduledTime.After(q.Now) || e.Attempts >= q.MaxAttempts {
			continue
		}
		if q.PageToken != "" && !afterCursor(e, afterTime, afterID) {
			continue
		}
		due = append(due, e)
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledTime.Equal(due[j].ScheduledTime) {
			return due[i].ScheduledTime.Before(due[j].ScheduledTime)
		}
		return due[i].ID < due[j].ID
	})

	next := ""
	if len(due) > limit {
		due = due[:limit]
		last := due[limit-1]
		next = encodePageToken(last.ScheduledTime, last.ID)
	}

	out := make([]model.QueueEntry, len(due))
	for i, e := range due {
		out[i] = *e
	}
	return out, next, nil
}

func afterCursor(e *model.QueueEntry, t time.Time, id string) bool {
	if !e.ScheduledTime.Equal(t) {
		return e.ScheduledTime.After(t)
	}
	return e.ID > id
}

func (m *Memory) MarkSent(_ context.Context, id string, sentAt time.Time, renderedPayload, gatewayResponse string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != model.StatusPending {
		return ErrInvalidTransition
	}

	sent := sentAt
	e.Status = model.StatusSent
	e.SentAt = &sent
	e.RenderedPayload = &renderedPayload
	e.GatewayResponse = &gatewayResponse
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, reason, renderedPayload, gatewayResponse string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != model.StatusPending {
		return ErrInvalidTransition
	}

	e.Attempts++
	e.RenderedPayload = &renderedPayload
	e.GatewayResponse = &gatewayResponse
	if terminal {
		e.Status = model.StatusFailed
		e.FailureReason = &reason
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CancelByLead(_ context.Context, leadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.entries {
		if e.LeadID != leadID || e.Status != model.StatusPending {
			continue
		}
		e.Status = model.StatusCancelled
		e.UpdatedAt = time.Now().UTC()
		count++
	}
	return count, nil
}

func (m *Memory) FindByLead(_ context.Context, leadID string) ([]model.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.QueueEntry
	for _, e := range m.entries {
		if e.LeadID == leadID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) RescheduleFailed(_ context.Context, now time.Time, maxAttempts int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.entries {
		if e.Status != model.StatusFailed || e.Attempts >= maxAttempts {
			continue
		}
		e.Status = model.StatusPending
		e.ScheduledTime = now
		e.FailureReason = nil
		e.UpdatedAt = time.Now().UTC()
		count++
	}
	return count, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[model.Status]int{
		model.StatusPending:   0,
		model.StatusSent:      0,
		model.StatusFailed:    0,
		model.StatusCancelled: 0,
	}
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}
