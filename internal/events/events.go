// Package events fans pipeline transition events out to delivery channels
// (the realtime websocket hub and the outbound webhook dispatcher).
// Services publish fire-and-forget; a slow or failing sink never blocks a
// pipeline operation.
package events

import (
	"context"
	"sync"
	"time"
)

// Type identifies a pipeline event.
type Type string

const (
	OfferCreated     Type = "offer.created"
	OfferAccepted    Type = "offer.accepted"
	OfferWithdrawn   Type = "offer.withdrawn"
	OfferRejected    Type = "offer.rejected"
	PaymentFunded    Type = "payment.funded"
	PaymentReleased  Type = "payment.released"
	PaymentRefunded  Type = "payment.refunded"
	PaymentSplit     Type = "payment.split"
	TripStarted      Type = "trip.started"
	TripDelivered    Type = "trip.delivered"
	TripConfirmed    Type = "trip.confirmed"
	TripClosed       Type = "trip.closed"
	DisputeOpened    Type = "dispute.opened"
	DisputeResolved  Type = "dispute.resolved"
	DisputeCancelled Type = "dispute.cancelled"
)

// Event is a single pipeline transition notification.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	// CompanyIDs are the companies the event concerns (delivery targeting).
	CompanyIDs []int64        `json:"companyIds,omitempty"`
	Data       map[string]any `json:"data"`
}

// Sink receives published events.
type Sink interface {
	Deliver(ctx context.Context, event Event)
}

// Bus fans events out to registered sinks.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Attach registers a sink. Safe to call before serving traffic only.
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers the event to every sink. Nil-safe so services can hold an
// optional *Bus without guarding each call site.
func (b *Bus) Publish(ctx context.Context, eventType Type, companyIDs []int64, data map[string]any) {
	if b == nil {
		return
	}
	event := Event{
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CompanyIDs: companyIDs,
		Data:       data,
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Deliver(ctx, event)
	}
}
