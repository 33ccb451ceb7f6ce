package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

// Memory is an in-process rule store for tests and local development.
type Memory struct {
	mu    sync.RWMutex
	rules map[string]model.DistributionRule
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rules: make(map[string]model.DistributionRule)}
}

func (m *Memory) ActiveRule(_ context.Context, source string) (model.DistributionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[source]
	if !ok {
		return model.DistributionRule{}, ErrNotFound
	}
	return cloneRule(rule), nil
}

func (m *Memory) ListRules(_ context.Context) ([]model.DistributionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.DistributionRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (m *Memory) PutRule(_ context.Context, rule model.DistributionRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Source] = cloneRule(rule)
	return nil
}

func cloneRule(r model.DistributionRule) model.DistributionRule {
	out := r
	out.LenderPriority = append([]model.LenderPriority(nil), r.LenderPriority...)
	return out
}
