// Package gateway is the outbound edge to the RCS provider. Send reports
// the outcome of every attempt through the Result, including transport
// failures, so the dispatcher records one audit shape for all of them.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/lendfield/rcs-dispatch/internal/render"
)

// Result is the outcome of a single send attempt. Transport failures carry
// StatusCode 0 and the error text in Body.
type Result struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Snapshot is the audit form stored on the queue entry.
func (r Result) Snapshot() string {
	b, _ := json.Marshal(r)
	return string(b)
}

type Gateway interface {
	Send(ctx context.Context, phone string, payload render.Payload) Result
}
