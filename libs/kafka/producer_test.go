package kafka

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

func TestDLQPublisherPublishesOnError(t *testing.T) {
	primary := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}
	metrics := NewProducerMetrics(prometheus.NewRegistry())
	publisher := NewDLQPublisher(primary, dlq, "exchange.dlq", slog.Default(), metrics)

	_, _, err := publisher.PublishJSON(context.Background(), "exchange.listings", "1", map[string]string{"listing_id": "1"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "exchange.dlq" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	payload, ok := dlq.calls[0].value.(DLQPayload)
	if !ok {
		t.Fatalf("expected DLQPayload, got %T", dlq.calls[0].value)
	}
	if payload.OriginalTopic != "exchange.listings" || payload.Key != "1" {
		t.Fatalf("unexpected payload routing: %+v", payload)
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Payload)
	if err != nil || string(raw) != `{"listing_id":"1"}` {
		t.Fatalf("unexpected payload body %q (%v)", raw, err)
	}
	if got := testutil.ToFloat64(metrics.DLQTotal.WithLabelValues("exchange.listings", "success")); got != 1 {
		t.Fatalf("expected dlq counter 1, got %v", got)
	}
}

func TestDLQPublisherSkipsOnSuccess(t *testing.T) {
	primary := &stubPublisher{}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "exchange.dlq", slog.Default(), nil)

	if _, _, err := publisher.PublishJSON(context.Background(), "exchange.listings", "1", map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish, got %d", len(dlq.calls))
	}
}

func TestSyncProducerRecordsMetrics(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	metrics := NewProducerMetrics(prometheus.NewRegistry())
	producer := newSyncProducer(mock, slog.Default(), metrics)
	defer producer.Close()

	if _, _, err := producer.PublishJSON(context.Background(), "exchange.listings", "1", map[string]int{"a": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := producer.PublishJSON(context.Background(), "exchange.listings", "1", map[string]int{"a": 2}); err == nil {
		t.Fatalf("expected publish failure")
	}
	if got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("exchange.listings", "success")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("exchange.listings", "error")); got != 1 {
		t.Fatalf("expected one error, got %v", got)
	}
}

func TestSyncProducerHonorsCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	producer := newSyncProducer(mock, slog.Default(), nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := producer.PublishJSON(ctx, "exchange.listings", "1", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := NewEnvelope("", "listing.created", 1, "corr", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.EventID == "" || env.Timestamp.Location() != time.UTC || !env.Timestamp.Equal(at) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, err := NewEnvelope("id", "", 1, "", at); err == nil {
		t.Fatalf("expected missing event type error")
	}
	if _, err := NewEnvelope("id", "listing.sold", 0, "", at); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("exchange", "listing.sold", "7")
	b := DeterministicEventID("exchange", "listing.sold", "7")
	c := DeterministicEventID("exchange", "listing.cancelled", "7")
	if a != b {
		t.Fatalf("expected stable id")
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct events")
	}
}
