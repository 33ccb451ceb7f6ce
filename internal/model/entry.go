package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions. The operator
// reschedule action is the single exception: it reopens failed entries.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

type Kind string

const (
	KindLenderSuccess    Kind = "lender_success"
	KindFallbackCampaign Kind = "fallback_campaign"
)

// QueueEntry is one scheduled outbound RCS notification. The phone number is
// copied from the lead at creation time so the entry stays self-contained.
type QueueEntry struct {
	ID              string     `json:"id"`
	LeadID          string     `json:"leadId"`
	Phone           string     `json:"phone"`
	Kind            Kind       `json:"kind"`
	LenderName      string     `json:"lenderName,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	ScheduledTime   time.Time  `json:"scheduledTime"`
	Status          Status     `json:"status"`
	Attempts        int        `json:"attempts"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
	FailureReason   *string    `json:"failureReason,omitempty"`
	RenderedPayload *string    `json:"renderedPayload,omitempty"`
	GatewayResponse *string    `json:"gatewayResponse,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
