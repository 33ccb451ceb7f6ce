// Package leads reads the slice of the externally-owned lead record the
// dispatcher needs at render time.
package leads

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("leads: lead not found")

type Lead struct {
	ID         string
	Phone      string
	Source     string
	FullName   string
	LoanAmount int
}

type Provider interface {
	Get(ctx context.Context, id string) (Lead, error)
}
