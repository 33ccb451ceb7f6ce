// Package intake consumes lender decision events from the broker and turns
// them into queue entries through the resolver.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/resolver"
)

// Decision is the event published by the lead distribution pipeline once
// every queried lender has answered for a lead.
type Decision struct {
	LeadID          string   `json:"leadId"`
	Source          string   `json:"source"`
	Phone           string   `json:"phone"`
	AcceptedLenders []string `json:"acceptedLenders"`
}

type Consumer struct {
	resolver  *resolver.Resolver
	queue     repo.Queue
	queueName string
}

func NewConsumer(res *resolver.Resolver, queue repo.Queue, queueName string) *Consumer {
	return &Consumer{
		resolver:  res,
		queue:     queue,
		queueName: queueName,
	}
}

// Run consumes decisions until ctx is done or the broker channel closes.
func (c *Consumer) Run(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("intake: open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("intake: declare queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("intake: register consumer: %w", err)
	}

	slog.Info("intake consumer started", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("intake: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks exactly once per delivery. Undecodable or incomplete events
// are dropped; transient failures are requeued once, then dropped on
// redelivery so a poison event cannot loop forever.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var dec Decision
	if err := json.Unmarshal(d.Body, &dec); err != nil {
		slog.Error("intake: drop undecodable decision", "error", err)
		_ = d.Ack(false)
		return
	}

	if dec.LeadID == "" || dec.Source == "" || dec.Phone == "" {
		slog.Error("intake: drop incomplete decision", "lead", dec.LeadID, "source", dec.Source)
		_ = d.Ack(false)
		return
	}

	requests, err := c.resolver.Resolve(ctx, resolver.Input{
		Source:          dec.Source,
		Phone:           dec.Phone,
		LeadID:          dec.LeadID,
		AcceptedLenders: dec.AcceptedLenders,
	})
	if err != nil {
		c.retryOrDrop(d, "resolve", dec.LeadID, err)
		return
	}

	for _, req := range requests {
		if _, err := c.queue.Create(ctx, req); err != nil {
			if errors.Is(err, repo.ErrInvalidEntry) {
				slog.Error("intake: drop invalid entry", "lead", dec.LeadID, "error", err)
				_ = d.Ack(false)
				return
			}
			c.retryOrDrop(d, "enqueue", dec.LeadID, err)
			return
		}
	}

	slog.Info("intake: decision enqueued", "lead", dec.LeadID, "source", dec.Source, "entries", len(requests))
	_ = d.Ack(false)
}

func (c *Consumer) retryOrDrop(d amqp.Delivery, op, leadID string, err error) {
	if d.Redelivered {
		slog.Error("intake: drop decision after redelivery", "op", op, "lead", leadID, "error", err)
		_ = d.Ack(false)
		return
	}
	slog.Warn("intake: requeue decision", "op", op, "lead", leadID, "error", err)
	_ = d.Nack(false, true)
}
