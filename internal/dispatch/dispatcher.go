// Package dispatch drains the queue. A tick claims one page of due
// entries, gates them by their source's operating hours, renders each one
// and hands it to the gateway, then records the outcome. An entry is
// attempted at most once per tick; transient failures stay pending and are
// picked up again on a later tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lendfield/rcs-dispatch/internal/gateway"
	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/render"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/rules"
	"github.com/lendfield/rcs-dispatch/internal/window"
)

// Stats aggregates one tick. Every due entry lands in exactly one of the
// outcome counters, so Processed = Sent+Retried+Failed+Skipped+Conflicts.
type Stats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

type Options struct {
	MaxAttempts int
	BatchSize   int
	Concurrency int
	SendTimeout time.Duration
}

type Dispatcher struct {
	queue    repo.Queue
	rules    rules.Provider
	leads    leads.Provider
	renderer *render.Registry
	gateway  gateway.Gateway

	maxAttempts int
	batchSize   int
	concurrency int
	sendTimeout time.Duration

	now func() time.Time

	// mu serializes ticks; the scheduler never overlaps its own ticks but
	// an operator-triggered run can race a scheduled one.
	mu sync.Mutex

	onSent   func(ctx context.Context, entry model.QueueEntry, res gateway.Result) error
	onFailed func(ctx context.Context, entry model.QueueEntry, reason string) error
}

func New(queue repo.Queue, provider rules.Provider, leadSource leads.Provider, renderer *render.Registry, gw gateway.Gateway, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:       queue,
		rules:       provider,
		leads:       leadSource,
		renderer:    renderer,
		gateway:     gw,
		maxAttempts: opts.MaxAttempts,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		sendTimeout: opts.SendTimeout,
		now:         time.Now,
	}
}

func (d *Dispatcher) WithHooks(
	onSent func(ctx context.Context, entry model.QueueEntry, res gateway.Result) error,
	onFailed func(ctx context.Context, entry model.QueueEntry, reason string) error,
) *Dispatcher {
	d.onSent = onSent
	d.onFailed = onFailed
	return d
}

func (d *Dispatcher) MaxAttempts() int { return d.maxAttempts }

// RescheduleFailed reopens terminally failed entries so the next ticks pick
// them up again. maxAttempts <= 0 keeps the dispatcher's configured bound.
func (d *Dispatcher) RescheduleFailed(ctx context.Context, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = d.maxAttempts
	}
	return d.queue.RescheduleFailed(ctx, d.now(), maxAttempts)
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeRetried
	outcomeFailed
	outcomeConflict
	outcomeSkipped
)

func (s *Stats) add(o sendOutcome) {
	switch o {
	case outcomeSent:
		s.Sent++
	case outcomeRetried:
		s.Retried++
	case outcomeFailed:
		s.Failed++
	case outcomeConflict:
		s.Conflicts++
	case outcomeSkipped:
		s.Skipped++
	}
}

// gateState is the per-source admission decision, computed once per tick.
type gateState struct {
	open    bool
	missing bool
	err     error
}

func (d *Dispatcher) sourceGate(ctx context.Context, now time.Time, source string, memo map[string]gateState) gateState {
	if g, ok := memo[source]; ok {
		return g
	}

	var g gateState
	rule, err := d.rules.ActiveRule(ctx, source)
	switch {
	case errors.Is(err, rules.ErrNotFound):
		g.missing = true
	case err != nil:
		g.err = err
	default:
		open, werr := window.Contains(now, rule.Hours)
		if werr != nil {
			g.err = werr
		} else {
			g.open = open
		}
	}

	memo[source] = g
	return g
}

// Tick processes one page of due entries and reports what happened to each.
func (d *Dispatcher) Tick(ctx context.Context) (Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	entries, _, err := d.queue.FindDue(ctx, repo.DueQuery{
		Now:         now,
		MaxAttempts: d.maxAttempts,
		Limit:       d.batchSize,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("dispatch: find due: %w", err)
	}

	stats := Stats{Processed: len(entries)}
	if len(entries) == 0 {
		return stats, nil
	}

	type sendItem struct {
		entry model.QueueEntry
		lead  leads.Lead
	}

	var sendable []sendItem
	gates := make(map[string]gateState)

	for _, e := range entries {
		lead, err := d.leads.Get(ctx, e.LeadID)
		switch {
		case errors.Is(err, leads.ErrNotFound):
			stats.add(d.recordFailure(ctx, e, "lead not found", "", "", true))
			continue
		case err != nil:
			slog.Error("dispatch: fetch lead failed", "entry", e.ID, "lead", e.LeadID, "error", err)
			stats.Skipped++
			continue
		}

		gate := d.sourceGate(ctx, now, lead.Source, gates)
		switch {
		case gate.err != nil:
			slog.Error("dispatch: source gate failed", "entry", e.ID, "source", lead.Source, "error", gate.err)
			stats.Skipped++
		case gate.missing:
			stats.add(d.recordFailure(ctx, e, "no distribution rule for source "+lead.Source, "", "", true))
		case !gate.open:
			stats.Skipped++
		default:
			sendable = append(sendable, sendItem{entry: e, lead: lead})
		}
	}

	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, it := range sendable {
		g.Go(func() error {
			o := d.process(gctx, it.entry, it.lead)
			statsMu.Lock()
			stats.add(o)
			statsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if stats.Processed > 0 {
		slog.Info("dispatch tick",
			"processed", stats.Processed,
			"sent", stats.Sent,
			"retried", stats.Retried,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"conflicts", stats.Conflicts,
		)
	}
	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, e model.QueueEntry, lead leads.Lead) sendOutcome {
	payload, err := d.renderer.Render(e, lead)
	if err != nil {
		return d.recordFailure(ctx, e, "render: "+err.Error(), "", "", true)
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	res := d.gateway.Send(sctx, e.Phone, payload)
	cancel()

	if res.Success {
		switch err := d.queue.MarkSent(ctx, e.ID, d.now(), payload.Snapshot(), res.Snapshot()); {
		case err == nil:
			if d.onSent != nil {
				_ = d.onSent(ctx, e, res)
			}
			return outcomeSent
		case errors.Is(err, repo.ErrInvalidTransition), errors.Is(err, repo.ErrNotFound):
			return outcomeConflict
		default:
			slog.Error("dispatch: mark sent failed", "entry", e.ID, "error", err)
			return outcomeSkipped
		}
	}

	reason := "gateway status " + strconv.Itoa(res.StatusCode)
	if res.StatusCode == 0 {
		reason = "gateway unreachable"
	}
	terminal := e.Attempts+1 >= d.maxAttempts

	return d.recordFailure(ctx, e, reason, payload.Snapshot(), res.Snapshot(), terminal)
}

func (d *Dispatcher) recordFailure(ctx context.Context, e model.QueueEntry, reason, rendered, response string, terminal bool) sendOutcome {
	switch err := d.queue.MarkFailed(ctx, e.ID, reason, rendered, response, terminal); {
	case err == nil:
	case errors.Is(err, repo.ErrInvalidTransition), errors.Is(err, repo.ErrNotFound):
		return outcomeConflict
	default:
		slog.Error("dispatch: record failure", "entry", e.ID, "error", err)
		return outcomeSkipped
	}

	if terminal {
		if d.onFailed != nil {
			_ = d.onFailed(ctx, e, reason)
		}
		return outcomeFailed
	}
	return outcomeRetried
}
