// Package resolver turns a lead's lender decisions into queue entry requests
// according to the source's distribution rule.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/rules"
	"github.com/lendfield/rcs-dispatch/internal/window"
)

// Input describes one lead whose lender decisions are complete.
// AcceptedLenders is assumed deduplicated and valid for the source.
type Input struct {
	Source          string
	Phone           string
	LeadID          string
	AcceptedLenders []string
}

type Resolver struct {
	rules rules.Provider
	now   func() time.Time
}

func New(provider rules.Provider) *Resolver {
	return &Resolver{rules: provider, now: time.Now}
}

// Resolve produces the queue entry requests for one lead. A missing or
// disabled rule yields zero requests and no error.
//
// With accepted lenders, only the top two by configured priority are kept.
// The first is promoted to priority 1 and sent immediately; the second is
// promoted to priority 2 and inherits the configured delay of the lender
// holding the rule's best priority, not its own. The stagger is therefore
// one immediate and one delayed message no matter which lenders accepted.
func (r *Resolver) Resolve(ctx context.Context, in Input) ([]repo.CreateEntryRequest, error) {
	rule, err := r.rules.ActiveRule(ctx, in.Source)
	if errors.Is(err, rules.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve lead %s: %w", in.LeadID, err)
	}
	if !rule.Enabled {
		return nil, nil
	}

	now := r.now()

	if len(in.AcceptedLenders) == 0 {
		if !rule.Fallback.Enabled {
			return nil, nil
		}
		at, err := window.Schedule(now, rule.Fallback.DelayDays, rule.Hours)
		if err != nil {
			return nil, fmt.Errorf("resolve lead %s: %w", in.LeadID, err)
		}
		return []repo.CreateEntryRequest{{
			LeadID:        in.LeadID,
			Phone:         in.Phone,
			Kind:          model.KindFallbackCampaign,
			ScheduledTime: at,
		}}, nil
	}

	matched := make([]model.LenderPriority, 0, len(in.AcceptedLenders))
	seen := make(map[string]bool, len(in.AcceptedLenders))
	for _, name := range in.AcceptedLenders {
		if seen[name] {
			continue
		}
		seen[name] = true
		if lp, ok := rule.Lender(name); ok {
			matched = append(matched, lp)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority < matched[j].Priority })

	requests := make([]repo.CreateEntryRequest, 0, 2)

	first, err := r.lenderRequest(in, matched[0].Lender, 1, 0, rule.Hours, now)
	if err != nil {
		return nil, err
	}
	requests = append(requests, first)

	if len(matched) > 1 {
		primary, _ := rule.Primary()
		second, err := r.lenderRequest(in, matched[1].Lender, 2, primary.DelayDays, rule.Hours, now)
		if err != nil {
			return nil, err
		}
		requests = append(requests, second)
	}
	return requests, nil
}

func (r *Resolver) lenderRequest(in Input, lender string, priority, delayDays int, hours model.OperatingHours, now time.Time) (repo.CreateEntryRequest, error) {
	at, err := window.Schedule(now, delayDays, hours)
	if err != nil {
		return repo.CreateEntryRequest{}, fmt.Errorf("resolve lead %s: %w", in.LeadID, err)
	}
	return repo.CreateEntryRequest{
		LeadID:        in.LeadID,
		Phone:         in.Phone,
		Kind:          model.KindLenderSuccess,
		LenderName:    lender,
		Priority:      priority,
		ScheduledTime: at,
	}, nil
}
