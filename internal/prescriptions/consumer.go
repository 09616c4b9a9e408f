package prescriptions

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/logger"
)

// Consumer feeds remote change events from the prescriptions subscription
// into the local bus.
type Consumer struct {
	subscription *pubsub.Subscriber
	bus          *Bus
	source       string
	logg         *logger.Logger
	dedupe       deduper
}

type deduper interface {
	Seen(ctx context.Context, scope string, eventID uuid.UUID) (bool, error)
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithDeduper skips events whose id was already handled by this source.
func WithDeduper(d deduper) ConsumerOption {
	return func(c *Consumer) {
		c.dedupe = d
	}
}

func NewConsumer(subscription *pubsub.Subscriber, bus *Bus, source string, logg *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("prescriptions subscription is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	c := &Consumer{subscription: subscription, bus: bus, source: source, logg: logg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ctx = c.logg.WithField(ctx, "message_id", msg.ID)
		c.handle(ctx, msg.Data)
		// Events only trigger a re-query, so nothing is worth redelivering.
		msg.Ack()
	})
}

func (c *Consumer) handle(ctx context.Context, data []byte) bool {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logg.WarnErr(ctx, "dropping undecodable prescription event", err)
		return false
	}
	if !ev.EventType.IsValid() || ev.OwnerID == "" || ev.PrescriptionID == uuid.Nil {
		c.logg.Warn(c.logg.WithField(ctx, "event_type", ev.EventType), "dropping malformed prescription event")
		return false
	}
	if ev.Source != "" && ev.Source == c.source {
		return false
	}
	if c.dedupe != nil && c.source != "" {
		seen, err := c.dedupe.Seen(ctx, c.source, ev.EventID)
		if err != nil {
			// Emit anyway; listeners tolerate duplicates.
			c.logg.WarnErr(ctx, "event de-duplication unavailable", err)
		} else if seen {
			return false
		}
	}
	c.bus.Emit(ev)
	return true
}
