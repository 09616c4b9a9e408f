package prescriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	"github.com/angelmondragon/medcart/pkg/logger"
)

// Event announces a change to a prescription record.
type Event struct {
	EventID        uuid.UUID                   `json:"event_id"`
	EventType      enums.PrescriptionEventType `json:"event_type"`
	PrescriptionID uuid.UUID                   `json:"prescription_id"`
	OwnerID        string                      `json:"owner_id"`
	Status         enums.PrescriptionStatus    `json:"status,omitempty"`
	OccurredAt     time.Time                   `json:"occurred_at"`
	Source         string                      `json:"source,omitempty"`
}

func newEvent(eventType enums.PrescriptionEventType, rec *models.Prescription, at time.Time) Event {
	return Event{
		EventID:        uuid.New(),
		EventType:      eventType,
		PrescriptionID: rec.ID,
		OwnerID:        rec.OwnerID,
		Status:         rec.Status,
		OccurredAt:     at.UTC(),
	}
}

// Bus fans change events out to in-process listeners. Listeners run on the
// emitting goroutine and must not block.
type Bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]func(Event))}
}

// Listen registers fn and returns a function that removes it.
func (b *Bus) Listen(fn func(Event)) (stop func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type remotePublisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// EventPublisher emits change events locally and, when configured, to the
// prescriptions topic so other clients refresh their live queries.
type EventPublisher struct {
	bus    *Bus
	remote remotePublisher
	source string
	logg   *logger.Logger
}

func NewEventPublisher(bus *Bus, remote remotePublisher, source string, logg *logger.Logger) (*EventPublisher, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &EventPublisher{bus: bus, remote: remote, source: source, logg: logg}, nil
}

// Publish never fails the caller; remote delivery errors are logged.
func (p *EventPublisher) Publish(ctx context.Context, ev Event) {
	ev.Source = p.source
	p.bus.Emit(ev)

	if p.remote == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logg.WarnErr(ctx, "encoding prescription event", err)
		return
	}
	attrs := map[string]string{
		"event_type": string(ev.EventType),
		"owner_id":   ev.OwnerID,
	}
	if err := p.remote.Publish(ctx, data, attrs); err != nil {
		p.logg.WarnErr(p.logg.WithField(ctx, "event_type", ev.EventType), "publishing prescription event", err)
	}
}

// PubSubPublisher adapts a Pub/Sub v2 publisher.
type PubSubPublisher struct {
	pub *pubsub.Publisher
}

func NewPubSubPublisher(pub *pubsub.Publisher) *PubSubPublisher {
	return &PubSubPublisher{pub: pub}
}

func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	if p == nil || p.pub == nil {
		return fmt.Errorf("pubsub publisher not configured")
	}
	_, err := p.pub.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	return err
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.pub != nil {
		p.pub.Stop()
	}
}
