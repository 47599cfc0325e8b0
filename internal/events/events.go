package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated    = "booking_created"
	EventPaymentHeld       = "payment_held"
	EventOwnerAccepted     = "owner_accepted"
	EventOwnerRejected     = "owner_rejected"
	EventDeliveryConfirmed = "delivery_confirmed"
	EventBookingCompleted  = "booking_completed"
	EventBookingCancelled  = "booking_cancelled"
	EventStatusOverridden  = "status_overridden"
)

// EscrowEventPayload is the booking snapshot event consumers see. It carries
// both parties so notification fan-out does not need a DB read.
type EscrowEventPayload struct {
	BookingID     int64  `json:"booking_id"`
	ItemName      string `json:"item_name"`
	RenterID      int64  `json:"renter_id"`
	OwnerID       int64  `json:"owner_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Actor         string `json:"actor,omitempty"`
	ActorID       int64  `json:"actor_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Event is a lightweight in-process domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. Handlers run synchronously on the
// publisher's goroutine; consumers that need isolation spawn their own.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
