// Package rules supplies the per-source rcsConfig documents. The distribution
// engine owns rule content; this package only stores and serves it.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/window"
)

var (
	ErrNotFound    = errors.New("rules: no rule for source")
	ErrInvalidRule = errors.New("rules: invalid rule")
)

// Provider is the read side consumed by the resolver and the dispatcher.
type Provider interface {
	ActiveRule(ctx context.Context, source string) (model.DistributionRule, error)
	ListRules(ctx context.Context) ([]model.DistributionRule, error)
}

// Store additionally lets the operator API replace a source's rcsConfig.
type Store interface {
	Provider
	PutRule(ctx context.Context, rule model.DistributionRule) error
}

// ValidateRule checks a rule document before it is stored: parseable
// operating hours, well-formed lender rows with unique priorities, and
// non-negative delays.
func ValidateRule(r model.DistributionRule) error {
	if r.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidRule)
	}
	if err := window.Validate(r.Hours); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.Fallback.DelayDays < 0 {
		return fmt.Errorf("%w: fallback delayDays must be >= 0", ErrInvalidRule)
	}

	seen := make(map[int]string, len(r.LenderPriority))
	for _, lp := range r.LenderPriority {
		if lp.Lender == "" {
			return fmt.Errorf("%w: lender name must not be empty", ErrInvalidRule)
		}
		if lp.Priority < 1 {
			return fmt.Errorf("%w: lender %q: priority must be >= 1", ErrInvalidRule, lp.Lender)
		}
		if lp.DelayDays < 0 {
			return fmt.Errorf("%w: lender %q: delayDays must be >= 0", ErrInvalidRule, lp.Lender)
		}
		if other, dup := seen[lp.Priority]; dup {
			return fmt.Errorf("%w: lenders %q and %q share priority %d", ErrInvalidRule, other, lp.Lender, lp.Priority)
		}
		seen[lp.Priority] = lp.Lender
	}
	return nil
}
