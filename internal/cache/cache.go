package cache

import (
	"context"
	"time"
)

// ReceiptCache keeps a short-lived record of each send outcome so support
// tooling can answer "did this lead get a message" without querying the
// queue store.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, entryID, leadID, status string, sentAt time.Time) error
}

// Noop is wired in when Redis is not configured.
type Noop struct{}

func (Noop) StoreReceipt(context.Context, string, string, string, time.Time) error {
	return nil
}
