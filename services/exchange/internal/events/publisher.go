// Package events publishes committed exchange events to Kafka.
package events

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/vvmafra/EnerTradeZK/libs/kafka"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/storage"
)

const eventVersion = 1

type ListingEvent struct {
	kafka.Envelope
	ListingID string `json:"listing_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Price     string `json:"price,omitempty"`
	At        string `json:"at"`
}

// Publisher sends events keyed by listing id so a listing's lifecycle stays
// ordered within one partition. Publish failures are logged and never undo
// the operation that produced the event.
type Publisher struct {
	producer kafka.Publisher
	topic    string
	logger   *slog.Logger
}

func NewPublisher(producer kafka.Publisher, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, correlationID string, evs []engine.Event) {
	if p == nil || p.producer == nil {
		return
	}
	for _, ev := range evs {
		msg, err := Encode(ev, correlationID)
		if err != nil {
			p.logger.Error("encode event failed", "event_type", ev.Type, "listing_id", ev.ListingID, "error", err)
			continue
		}
		if _, _, err := p.producer.PublishJSON(ctx, p.topic, msg.ListingID, msg); err != nil {
			p.logger.Error("publish event failed",
				"topic", p.topic,
				"event_type", ev.Type,
				"event_id", msg.EventID,
				"listing_id", ev.ListingID,
				"error", err,
			)
		}
	}
}

func Encode(ev engine.Event, correlationID string) (ListingEvent, error) {
	env, err := kafka.NewEnvelope(storage.EventID(ev), string(ev.Type), eventVersion, correlationID, ev.At)
	if err != nil {
		return ListingEvent{}, err
	}
	msg := ListingEvent{
		Envelope:  env,
		ListingID: strconv.FormatUint(ev.ListingID, 10),
		Seller:    ev.Seller.String(),
		Buyer:     ev.Buyer.String(),
		At:        ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Type != engine.EventListingCancelled {
		msg.Amount = safe.Format(ev.Amount)
		msg.Price = safe.Format(ev.Price)
	}
	return msg, nil
}
