package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/vvmafra/EnerTradeZK/services/exchange/internal/service")

type EventPublisher interface {
	Publish(ctx context.Context, correlationID string, evs []engine.Event)
}

type correlationKey struct{}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

type Stats struct {
	Supply         engine.Supply
	ActiveListings int
	Trades         int
}

type Contracts struct {
	PaymentToken engine.Address
	Verifier     engine.Address
}

// ExchangeService validates caller input, runs exchange operations and
// reports their outcome to metrics, logs and the event stream.
type ExchangeService struct {
	exchange *engine.Exchange
	events   EventPublisher
	logger   *slog.Logger
	metrics  *Metrics
}

func NewExchangeService(exchange *engine.Exchange, events EventPublisher, logger *slog.Logger, metrics *Metrics) *ExchangeService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ExchangeService{
		exchange: exchange,
		events:   events,
		logger:   logger,
		metrics:  metrics,
	}
	s.metrics.SetActiveListings(s.countActive())
	return s
}

func (s *ExchangeService) Deposit(ctx context.Context, account, amount string) (engine.Balance, error) {
	acct, amt, err := parseAccountAmount(account, amount)
	if err != nil {
		return engine.Balance{}, err
	}
	receipt, err := s.do(ctx, engine.OpDeposit, func(ctx context.Context) (engine.Receipt, error) {
		return s.exchange.Deposit(ctx, acct, amt)
	})
	return receipt.Balance, err
}

func (s *ExchangeService) Withdraw(ctx context.Context, account, amount string) (engine.Balance, error) {
	acct, amt, err := parseAccountAmount(account, amount)
	if err != nil {
		return engine.Balance{}, err
	}
	receipt, err := s.do(ctx, engine.OpWithdraw, func(ctx context.Context) (engine.Receipt, error) {
		return s.exchange.Withdraw(ctx, acct, amt)
	})
	return receipt.Balance, err
}

func (s *ExchangeService) CreateListing(ctx context.Context, seller, amount, price string) (engine.Listing, error) {
	acct, amt, err := parseAccountAmount(seller, amount)
	if err != nil {
		return engine.Listing{}, err
	}
	total, err := parseAmount(price, "price")
	if err != nil {
		return engine.Listing{}, err
	}
	receipt, err := s.do(ctx, engine.OpCreate, func(ctx context.Context) (engine.Receipt, error) {
		return s.exchange.CreateListing(ctx, acct, amt, total)
	})
	return receipt.Listing, err
}

func (s *ExchangeService) BuyListing(ctx context.Context, buyer string, listingID uint64) (engine.Listing, error) {
	acct, err := engine.ParseAddress(buyer)
	if err != nil {
		return engine.Listing{}, err
	}
	receipt, err := s.do(ctx, engine.OpBuy, func(ctx context.Context) (engine.Receipt, error) {
		return s.exchange.BuyListing(ctx, acct, listingID)
	})
	if err != nil {
		return engine.Listing{}, err
	}
	s.metrics.AddSettled(engine.AssetTradable.String(), receipt.Listing.Amount)
	s.metrics.AddSettled(engine.AssetPayment.String(), receipt.Listing.Price)
	return receipt.Listing, nil
}

func (s *ExchangeService) CancelListing(ctx context.Context, caller string, listingID uint64) (engine.Listing, error) {
	acct, err := engine.ParseAddress(caller)
	if err != nil {
		return engine.Listing{}, err
	}
	receipt, err := s.do(ctx, engine.OpCancel, func(ctx context.Context) (engine.Receipt, error) {
		return s.exchange.CancelListing(ctx, acct, listingID)
	})
	return receipt.Listing, err
}

// ActiveListings resolves the active ids to full listings.
func (s *ExchangeService) ActiveListings() []engine.Listing {
	out := make([]engine.Listing, 0)
	for id := range s.exchange.GetActiveListings() {
		l, err := s.exchange.Listing(id)
		if err != nil {
			continue
		}
		if l.IsActive() {
			out = append(out, l)
		}
	}
	return out
}

func (s *ExchangeService) Listing(id uint64) (engine.Listing, error) {
	return s.exchange.Listing(id)
}

func (s *ExchangeService) Balance(account string) (engine.Balance, error) {
	acct, err := engine.ParseAddress(account)
	if err != nil {
		return engine.Balance{}, err
	}
	return s.exchange.GetBalance(acct), nil
}

func (s *ExchangeService) Trades(account string) ([]engine.Event, error) {
	acct, err := engine.ParseAddress(account)
	if err != nil {
		return nil, err
	}
	return s.exchange.Trades(acct), nil
}

func (s *ExchangeService) Stats() Stats {
	return Stats{
		Supply:         s.exchange.Supply(),
		ActiveListings: s.countActive(),
		Trades:         len(s.exchange.Trades("")),
	}
}

func (s *ExchangeService) Contracts() Contracts {
	c := Contracts{PaymentToken: s.exchange.PaymentToken()}
	if v := s.exchange.Verifier(); v != nil {
		c.Verifier = v.Address()
	}
	return c
}

// ReportPending surfaces settlements left over from a previous run. Each
// one may have moved payment without its trade being journaled and has to
// be reconciled against the payment token.
func (s *ExchangeService) ReportPending(pending []engine.PendingSettlement) {
	s.metrics.SetPendingSettlements(len(pending))
	for _, p := range pending {
		listingStatus := "unknown"
		if l, err := s.exchange.Listing(p.ListingID); err == nil {
			listingStatus = l.Status.String()
		}
		s.logger.Error("settlement awaiting reconciliation",
			"settlement_id", p.ID,
			"operation", p.Operation,
			"listing_id", p.ListingID,
			"listing_status", listingStatus,
			"payer", p.From,
			"payee", p.To,
			"amount", safe.Format(p.Amount),
			"recorded_at", p.At,
		)
	}
}

func (s *ExchangeService) do(ctx context.Context, op string, fn func(context.Context) (engine.Receipt, error)) (engine.Receipt, error) {
	ctx, span := tracer.Start(ctx, "exchange."+op)
	defer span.End()
	span.SetAttributes(attribute.String("exchange.operation", op))

	start := time.Now()
	receipt, err := fn(ctx)
	status := "success"
	if err != nil {
		status = string(engine.Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	} else if receipt.Listing.ID != 0 {
		span.SetAttributes(attribute.Int64("exchange.listing_id", int64(receipt.Listing.ID)))
	}
	s.metrics.ObserveOperation(op, status, time.Since(start))

	if err != nil {
		switch engine.Classify(err) {
		case engine.ClassInternalConsistency:
			s.logger.Error("exchange operation failed", "operation", op, "error", err)
		case engine.ClassExternalDependency:
			s.logger.Warn("exchange operation failed", "operation", op, "error", err)
		default:
			s.logger.Debug("exchange operation rejected", "operation", op, "error", err)
		}
		return engine.Receipt{}, err
	}

	if op == engine.OpCreate || op == engine.OpBuy || op == engine.OpCancel {
		s.metrics.SetActiveListings(s.countActive())
	}
	if s.events != nil && len(receipt.Events) > 0 {
		s.events.Publish(ctx, correlationID(ctx), receipt.Events)
	}
	return receipt, nil
}

func (s *ExchangeService) countActive() int {
	n := 0
	for range s.exchange.GetActiveListings() {
		n++
	}
	return n
}

func parseAccountAmount(account, amount string) (engine.Address, decimal.Decimal, error) {
	acct, err := engine.ParseAddress(account)
	if err != nil {
		return "", decimal.Zero, err
	}
	amt, err := parseAmount(amount, "amount")
	if err != nil {
		return "", decimal.Zero, err
	}
	return acct, amt, nil
}

func parseAmount(value, field string) (decimal.Decimal, error) {
	amt, err := safe.ParseAmount(value)
	if err != nil {
		if errors.Is(err, safe.ErrOverflow) {
			return decimal.Zero, fmt.Errorf("%s: %w", field, engine.ErrAmountOverflow)
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %w", engine.ErrInvalidAmount, field, err)
	}
	return amt, nil
}
