// Package events publishes subscription lifecycle transitions.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types, one per subscription transition.
const (
	TypeCreated   = "subscription.created"
	TypeActivated = "subscription.activated"
	TypeCancelled = "subscription.cancelled"
	TypeExpired   = "subscription.expired"
	TypeDeclined  = "subscription.declined"
)

// Event describes a single subscription transition.
type Event struct {
	ID                     string    `json:"id"`
	Type                   string    `json:"type"`
	CompanyID              int64     `json:"company_id"`
	SubscriptionID         string    `json:"subscription_id"`
	PlanID                 string    `json:"plan_id"`
	PlatformSubscriptionID string    `json:"platform_subscription_id,omitempty"`
	Status                 string    `json:"status"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// Publisher delivers lifecycle events. Delivery is best effort; callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends the event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
