// Package render builds the RCS payload for a queue entry. Lender templates
// live in a registry that is filled once at startup; an entry naming a lender
// without a registered template is a hard failure, never a silent skip.
package render

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
)

var ErrUnknownLender = errors.New("render: no template registered for lender")

// Payload is the rendered notification handed to the gateway.
type Payload struct {
	Template string            `json:"template"`
	Params   map[string]string `json:"params"`
}

// Snapshot is the audit form stored on the queue entry after a send attempt.
func (p Payload) Snapshot() string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("template=%s (unencodable params)", p.Template)
	}
	return string(b)
}

type Template interface {
	Render(lead leads.Lead, entry model.QueueEntry) (Payload, error)
}

type Registry struct {
	lenders  map[string]Template
	fallback Template
}

func NewRegistry() *Registry {
	return &Registry{lenders: make(map[string]Template)}
}

// RegisterLender binds a template to a lender name. Call during startup
// only; the registry is read concurrently once dispatching begins.
func (r *Registry) RegisterLender(name string, t Template) {
	r.lenders[name] = t
}

func (r *Registry) RegisterFallback(t Template) {
	r.fallback = t
}

// Lenders returns the registered lender names, for startup logging.
func (r *Registry) Lenders() []string {
	names := make([]string, 0, len(r.lenders))
	for name := range r.lenders {
		names = append(names, name)
	}
	return names
}

func (r *Registry) Render(entry model.QueueEntry, lead leads.Lead) (Payload, error) {
	switch entry.Kind {
	case model.KindFallbackCampaign:
		if r.fallback == nil {
			return Payload{}, errors.New("render: no fallback campaign template registered")
		}
		return r.fallback.Render(lead, entry)
	case model.KindLenderSuccess:
		t, ok := r.lenders[entry.LenderName]
		if !ok {
			return Payload{}, fmt.Errorf("%w: %q", ErrUnknownLender, entry.LenderName)
		}
		return t.Render(lead, entry)
	default:
		return Payload{}, fmt.Errorf("render: unknown entry kind %q", entry.Kind)
	}
}
