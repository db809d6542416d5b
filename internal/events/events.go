// Package events carries domain events from the borrow lifecycle to
// subscribers (user notifications, the optional RabbitMQ forwarder).
//
// Events are published only after the store transaction that caused them has
// committed. Delivery is in-process and at-most-once: a process crash between
// commit and delivery loses the event, never the state change.
package events

import (
	"context"
	"time"
)

// Topics.
const (
	TopicWaitingJoined = "library.waiting.joined"
	TopicWaitingLeft   = "library.waiting.left"
	TopicLoanAccepted  = "library.loan.accepted"
	TopicLoanReturned  = "library.loan.returned"
)

// AllTopics lists every topic the lifecycle publishes.
var AllTopics = []string{TopicWaitingJoined, TopicWaitingLeft, TopicLoanAccepted, TopicLoanReturned}

// Event is the payload of every topic.
type Event struct {
	ID         string     `json:"id"`
	Topic      string     `json:"topic"`
	UID        string     `json:"uid"`
	BookID     string     `json:"bookId,omitempty"`
	Title      string     `json:"title,omitempty"`
	CopyID     int64      `json:"copyID,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
