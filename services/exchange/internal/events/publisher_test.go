package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

type testProducer struct {
	topics []string
	keys   []string
	values []any
	err    error
}

func (p *testProducer) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return 0, 0, p.err
}

func (p *testProducer) Close() error { return nil }

var soldEvent = engine.Event{
	Type:      engine.EventListingSold,
	ListingID: 1,
	Seller:    engine.MustAddress("0x1111111111111111111111111111111111111111"),
	Buyer:     engine.MustAddress("0x2222222222222222222222222222222222222222"),
	Amount:    decimal.NewFromInt(100),
	Price:     decimal.NewFromInt(50),
	At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func TestPublisherKeysByListing(t *testing.T) {
	producer := &testProducer{}
	pub := NewPublisher(producer, "exchange.listings", nil)

	pub.Publish(context.Background(), "corr-1", []engine.Event{soldEvent})

	if len(producer.topics) != 1 || producer.topics[0] != "exchange.listings" {
		t.Fatalf("expected exchange.listings publish, got %v", producer.topics)
	}
	if producer.keys[0] != "1" {
		t.Fatalf("expected key 1, got %s", producer.keys[0])
	}
	msg, ok := producer.values[0].(ListingEvent)
	if !ok {
		t.Fatalf("expected ListingEvent, got %T", producer.values[0])
	}
	if msg.EventType != "listing.sold" || msg.Price != "50" || msg.Amount != "100" || msg.CorrelationID != "corr-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(soldEvent, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _ := Encode(soldEvent, "other")
	if a.EventID != b.EventID {
		t.Fatalf("expected same event id, got %s and %s", a.EventID, b.EventID)
	}
}

func TestEncodeCancelledOmitsAmounts(t *testing.T) {
	msg, err := Encode(engine.Event{Type: engine.EventListingCancelled, ListingID: 2, Seller: soldEvent.Seller, At: soldEvent.At}, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.Amount != "" || msg.Price != "" || msg.Buyer != "" {
		t.Fatalf("expected empty amount, price and buyer, got %+v", msg)
	}
}

func TestPublishFailureDoesNotPanic(t *testing.T) {
	producer := &testProducer{err: errors.New("broker down")}
	NewPublisher(producer, "exchange.listings", nil).Publish(context.Background(), "", []engine.Event{soldEvent})
	if len(producer.values) != 1 {
		t.Fatalf("expected one attempt, got %d", len(producer.values))
	}
	var nilPub *Publisher
	nilPub.Publish(context.Background(), "", []engine.Event{soldEvent})
}
