package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/payment"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/verifier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	sellerAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr  = "0x2222222222222222222222222222222222222222"
)

type fakePublisher struct {
	correlations []string
	events       []engine.Event
}

func (f *fakePublisher) Publish(_ context.Context, correlationID string, evs []engine.Event) {
	f.correlations = append(f.correlations, correlationID)
	f.events = append(f.events, evs...)
}

func newTestService(t *testing.T) (*ExchangeService, *payment.MemoryToken, *fakePublisher, *Metrics) {
	t.Helper()
	token := payment.NewMemoryToken(
		engine.MustAddress("0x00000000000000000000000000000000000000aa"),
		engine.MustAddress("0x00000000000000000000000000000000000000ee"),
	)
	ex := engine.New(token, engine.WithVerifier(verifier.NewStatic(engine.MustAddress("0x00000000000000000000000000000000000000bb"), true)))
	pub := &fakePublisher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewExchangeService(ex, pub, nil, metrics), token, pub, metrics
}

func TestServiceTradeFlow(t *testing.T) {
	svc, token, pub, metrics := newTestService(t)
	ctx := WithCorrelationID(context.Background(), "req-1")

	if _, err := svc.Deposit(ctx, sellerAddr, "500"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	listing, err := svc.CreateListing(ctx, sellerAddr, "100", "50")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveListings); got != 1 {
		t.Fatalf("expected 1 active listing, got %v", got)
	}

	buyer := engine.MustAddress(buyerAddr)
	_ = token.Mint(ctx, buyer, decimal.NewFromInt(50))
	_ = token.Approve(ctx, buyer, decimal.NewFromInt(50))
	sold, err := svc.BuyListing(ctx, buyerAddr, listing.ID)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if sold.Status != engine.ListingSold {
		t.Fatalf("expected sold, got %s", sold.Status)
	}

	if len(pub.events) != 2 || pub.events[1].Type != engine.EventListingSold {
		t.Fatalf("expected created and sold events, got %+v", pub.events)
	}
	if pub.correlations[0] != "req-1" {
		t.Fatalf("expected correlation id to flow, got %q", pub.correlations[0])
	}
	if got := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(engine.OpBuy, "success")); got != 1 {
		t.Fatalf("expected one successful buy, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SettledVolume.WithLabelValues("payment")); got != 50 {
		t.Fatalf("expected 50 settled payment units, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveListings); got != 0 {
		t.Fatalf("expected no active listings, got %v", got)
	}

	stats := svc.Stats()
	if stats.Trades != 1 || stats.ActiveListings != 0 || !stats.Supply.Deposited.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	trades, err := svc.Trades(sellerAddr)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected one trade for seller, got %d, %v", len(trades), err)
	}
}

func TestServiceRejectsBadInput(t *testing.T) {
	svc, _, pub, metrics := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "not-an-address", "1"); !errors.Is(err, engine.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if _, err := svc.Deposit(ctx, sellerAddr, "1.5"); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.Deposit(ctx, sellerAddr, "-3"); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}
	tooBig := "1" + "000000000000000000000000000000000000000000000000000000000000000000000000000000"
	if _, err := svc.Deposit(ctx, sellerAddr, tooBig); !errors.Is(err, engine.ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := svc.Deposit(ctx, sellerAddr, "0"); !errors.Is(err, engine.ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(engine.OpDeposit, string(engine.ClassValidation))); got != 1 {
		t.Fatalf("expected one validation failure recorded, got %v", got)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events for rejected input")
	}
}

func TestServicePaymentFailureRecorded(t *testing.T) {
	svc, _, pub, metrics := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Deposit(ctx, sellerAddr, "10"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	listing, err := svc.CreateListing(ctx, sellerAddr, "10", "5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.BuyListing(ctx, buyerAddr, listing.ID); !errors.Is(err, engine.ErrPaymentTransferFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(engine.OpBuy, string(engine.ClassExternalDependency))); got != 1 {
		t.Fatalf("expected external failure recorded, got %v", got)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected only the created event, got %d", len(pub.events))
	}
	if active := svc.ActiveListings(); len(active) != 1 || active[0].ID != listing.ID {
		t.Fatalf("expected listing still active, got %+v", active)
	}
}

func TestServiceContracts(t *testing.T) {
	svc, token, _, _ := newTestService(t)
	c := svc.Contracts()
	if c.PaymentToken != token.Address() {
		t.Fatalf("unexpected payment token %s", c.PaymentToken)
	}
	if c.Verifier != engine.MustAddress("0x00000000000000000000000000000000000000bb") {
		t.Fatalf("unexpected verifier %s", c.Verifier)
	}
}

func TestServiceRecordsOperationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Deposit(ctx, sellerAddr, "10"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	listing, err := svc.CreateListing(ctx, sellerAddr, "10", "5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BuyListing(ctx, buyerAddr, listing.ID); !errors.Is(err, engine.ErrPaymentTransferFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	if spans[0].Name() != "exchange."+engine.OpDeposit || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected deposit span %s %v", spans[0].Name(), spans[0].Status())
	}
	buy := spans[2]
	if buy.Name() != "exchange."+engine.OpBuy {
		t.Fatalf("expected buy span, got %s", buy.Name())
	}
	if buy.Status().Code != codes.Error || buy.Status().Description != string(engine.ClassExternalDependency) {
		t.Fatalf("expected error status on failed buy, got %+v", buy.Status())
	}
	found := false
	for _, kv := range buy.Attributes() {
		if kv.Key == attribute.Key("exchange.operation") && kv.Value.AsString() == engine.OpBuy {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exchange.operation attribute, got %v", buy.Attributes())
	}
	if len(buy.Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}

func TestReportPendingSettlements(t *testing.T) {
	token := payment.NewMemoryToken(
		engine.MustAddress("0x00000000000000000000000000000000000000aa"),
		engine.MustAddress("0x00000000000000000000000000000000000000ee"),
	)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewExchangeService(engine.New(token), nil, logger, metrics)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, sellerAddr, "10"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.CreateListing(ctx, sellerAddr, "10", "5"); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.ReportPending([]engine.PendingSettlement{{
		ID:        "settle-1",
		Operation: engine.OpBuy,
		ListingID: 1,
		From:      engine.MustAddress(buyerAddr),
		To:        engine.MustAddress(sellerAddr),
		Amount:    decimal.NewFromInt(5),
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})

	if got := testutil.ToFloat64(metrics.PendingSettlements); got != 1 {
		t.Fatalf("expected 1 pending settlement, got %v", got)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"settlement awaiting reconciliation"`, `"settlement_id":"settle-1"`, `"listing_status":"active"`, `"amount":"5"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output %s", want, out)
		}
	}

	svc.ReportPending(nil)
	if got := testutil.ToFloat64(metrics.PendingSettlements); got != 0 {
		t.Fatalf("expected gauge reset, got %v", got)
	}
}
