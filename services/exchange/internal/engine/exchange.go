package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpCreate   = "create_listing"
	OpBuy      = "buy_listing"
	OpCancel   = "cancel_listing"
)

// Receipt describes a committed operation.
type Receipt struct {
	Operation string
	Listing   Listing
	Balance   Balance
	Events    []Event
}

type Option func(*Exchange)

func WithJournal(j Journal) Option {
	return func(e *Exchange) {
		if j != nil {
			e.journal = j
		}
	}
}

func WithVerifier(v ProofVerifier) Option {
	return func(e *Exchange) { e.verifier = v }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Exchange owns the vault and the listing registry and settles trades
// against an external payment token.
//
// Every mutator holds opMu from its first read to its last write, so
// operations are serialized and each observes the state left by the
// previous one. Work is staged on private copies of the vault and registry
// and published under mu only after the journal commits. Views take mu
// alone and never wait on a settlement in flight.
type Exchange struct {
	opMu     sync.Mutex
	mu       sync.RWMutex
	vault    *EscrowVault
	registry *ListingRegistry
	trades   []Event

	payment  TokenTransferAdapter
	verifier ProofVerifier
	journal  Journal
	now      func() time.Time
	logger   *slog.Logger
}

func New(payment TokenTransferAdapter, opts ...Option) *Exchange {
	e := &Exchange{
		vault:    NewEscrowVault(),
		registry: NewListingRegistry(),
		payment:  payment,
		journal:  NopJournal{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deposit credits amount to account's free balance.
func (e *Exchange) Deposit(ctx context.Context, account Address, amount decimal.Decimal) (Receipt, error) {
	return e.run(ctx, OpDeposit, func(tx *txn) error {
		if err := tx.vault.Deposit(account, amount); err != nil {
			return err
		}
		tx.receipt.Balance = tx.vault.Balance(account)
		return nil
	})
}

// Withdraw removes amount from account's free balance and from custody.
func (e *Exchange) Withdraw(ctx context.Context, account Address, amount decimal.Decimal) (Receipt, error) {
	return e.run(ctx, OpWithdraw, func(tx *txn) error {
		if err := tx.vault.Withdraw(account, amount); err != nil {
			return err
		}
		tx.receipt.Balance = tx.vault.Balance(account)
		return nil
	})
}

// CreateListing escrows amount of the seller's free balance and offers it
// for price, the total payment for the whole amount.
func (e *Exchange) CreateListing(ctx context.Context, seller Address, amount, price decimal.Decimal) (Receipt, error) {
	return e.run(ctx, OpCreate, func(tx *txn) error {
		listing, err := tx.registry.Create(tx.vault, seller, amount, price, tx.now)
		if err != nil {
			return err
		}
		tx.receipt.Listing = listing
		tx.receipt.Balance = tx.vault.Balance(seller)
		tx.emit(listingCreated(listing))
		return nil
	})
}

// BuyListing pays the seller from the buyer's payment token allowance and
// hands the escrowed amount to the buyer's free balance.
//
// The escrow move and the status change are staged first, the payment pull
// is the first effect visible outside the exchange, and the staged changes
// are published only after it succeeds. A failed payment leaves no trace.
func (e *Exchange) BuyListing(ctx context.Context, buyer Address, listingID uint64) (Receipt, error) {
	return e.run(ctx, OpBuy, func(tx *txn) error {
		listing, err := tx.activeListing(listingID)
		if err != nil {
			return err
		}
		if buyer == listing.Seller {
			return ErrSelfTrade
		}
		if err := tx.vault.TransferEscrowed(listing.Seller, buyer, listing.Amount); err != nil {
			return err
		}
		if err := tx.registry.markSold(listingID, buyer, tx.now); err != nil {
			return err
		}
		sold, err := tx.registry.Get(listingID)
		if err != nil {
			return err
		}
		tx.receipt.Listing = sold
		tx.receipt.Balance = tx.vault.Balance(buyer)
		tx.emit(listingSold(listing, buyer, tx.now))
		tx.settlement = &PendingSettlement{
			Operation: OpBuy,
			ListingID: listingID,
			From:      buyer,
			To:        listing.Seller,
			Amount:    listing.Price,
			At:        tx.now,
		}
		tx.external = func(ctx context.Context) error {
			if e.payment == nil {
				return fmt.Errorf("%w: payment token not configured", ErrPaymentTransferFailed)
			}
			if err := e.payment.TransferFrom(ctx, buyer, listing.Seller, listing.Price); err != nil {
				return fmt.Errorf("%w: %w", ErrPaymentTransferFailed, err)
			}
			return nil
		}
		return nil
	})
}

// CancelListing returns the escrowed amount to the seller. Only the seller
// may cancel, and only while the listing is Active.
func (e *Exchange) CancelListing(ctx context.Context, caller Address, listingID uint64) (Receipt, error) {
	return e.run(ctx, OpCancel, func(tx *txn) error {
		listing, err := tx.activeListing(listingID)
		if err != nil {
			return err
		}
		if caller != listing.Seller {
			return ErrNotSeller
		}
		if err := tx.vault.ReleaseToFree(listing.Seller, listing.Amount); err != nil {
			return err
		}
		if err := tx.registry.markCancelled(listingID, tx.now); err != nil {
			return err
		}
		cancelled, err := tx.registry.Get(listingID)
		if err != nil {
			return err
		}
		tx.receipt.Listing = cancelled
		tx.receipt.Balance = tx.vault.Balance(listing.Seller)
		tx.emit(listingCancelled(listing, tx.now))
		return nil
	})
}

// GetActiveListings returns a snapshot of the ids of the listings Active
// when it is called.
func (e *Exchange) GetActiveListings() iter.Seq[uint64] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.ListActiveIDs()
}

func (e *Exchange) Listing(id uint64) (Listing, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Get(id)
}

func (e *Exchange) GetBalance(account Address) Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.Balance(account)
}

// PaymentToken is the address of the payment token adapter.
func (e *Exchange) PaymentToken() Address {
	if e.payment == nil {
		return ""
	}
	return e.payment.Address()
}

func (e *Exchange) Verifier() ProofVerifier {
	return e.verifier
}

func (e *Exchange) Supply() Supply {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.Supply()
}

// Trades returns the sales in which account was buyer or seller, oldest
// first. An empty account returns every sale.
func (e *Exchange) Trades(account Address) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range e.trades {
		if account == "" || ev.Buyer == account || ev.Seller == account {
			out = append(out, ev)
		}
	}
	return out
}

// Restore replaces all state with snapshot after checking its invariants.
func (e *Exchange) Restore(snapshot Snapshot) error {
	vault := NewEscrowVault()
	vault.restore(snapshot.Accounts, snapshot.Deposited, snapshot.Withdrawn)
	registry := NewListingRegistry()
	if err := registry.restore(snapshot.Listings, snapshot.NextListingID); err != nil {
		return err
	}
	if err := checkInvariants(vault, registry); err != nil {
		return err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault = vault
	e.registry = registry
	e.trades = append([]Event(nil), snapshot.Trades...)
	return nil
}

// CheckInvariants verifies conservation of custody and that every account's
// escrow equals the amount of its Active listings.
func (e *Exchange) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return checkInvariants(e.vault, e.registry)
}

func checkInvariants(vault *EscrowVault, registry *ListingRegistry) error {
	supply := vault.Supply()
	if !supply.Held().Equal(supply.Net()) {
		return fmt.Errorf("%w: held %s != deposited %s - withdrawn %s", ErrInvariant, supply.Held(), supply.Deposited, supply.Withdrawn)
	}

	locked := make(map[Address]decimal.Decimal)
	for _, l := range registry.Listings() {
		if l.IsActive() {
			locked[l.Seller] = locked[l.Seller].Add(l.Amount)
		}
	}
	for _, account := range vault.escrow.Accounts() {
		if _, ok := locked[account]; !ok {
			locked[account] = decimal.Zero
		}
	}
	for account, want := range locked {
		if got := vault.escrow.BalanceOf(account); !got.Equal(want) {
			return fmt.Errorf("%w: account %s escrow %s != active listings %s", ErrInvariant, account, got, want)
		}
	}
	for _, account := range vault.free.Accounts() {
		if vault.free.BalanceOf(account).IsNegative() {
			return fmt.Errorf("%w: account %s negative free balance", ErrInvariant, account)
		}
	}
	return nil
}

// txn is one operation's private view of the exchange.
type txn struct {
	vault    *EscrowVault
	registry *ListingRegistry
	now      time.Time
	receipt  Receipt
	external func(ctx context.Context) error
	// settlement describes the payment external makes, if any.
	settlement *PendingSettlement
}

func (tx *txn) emit(ev Event) {
	tx.receipt.Events = append(tx.receipt.Events, ev)
}

func (tx *txn) activeListing(id uint64) (Listing, error) {
	listing, err := tx.registry.Get(id)
	if err != nil {
		return Listing{}, err
	}
	if !listing.IsActive() {
		return Listing{}, fmt.Errorf("%w: listing %d is %s", ErrListingNotActive, id, listing.Status)
	}
	return listing, nil
}

func (tx *txn) changeset(op string) Changeset {
	return Changeset{
		Operation:     op,
		Accounts:      tx.vault.touched(),
		Listings:      tx.registry.touched(),
		NextListingID: tx.registry.NextID(),
		Supply:        tx.vault.Supply(),
		Events:        tx.receipt.Events,
		Settlement:    tx.settlementID(),
	}
}

func (tx *txn) settlementID() string {
	if tx.settlement == nil {
		return ""
	}
	return tx.settlement.ID
}

type settlementKey struct{}

// inSettlement reports whether ctx was handed out to the payment adapter
// by an operation that is still running.
func inSettlement(ctx context.Context) bool {
	v, _ := ctx.Value(settlementKey{}).(bool)
	return v
}

func (e *Exchange) run(ctx context.Context, op string, stage func(tx *txn) error) (Receipt, error) {
	if inSettlement(ctx) {
		return Receipt{}, ErrReentrantCall
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	tx := &txn{
		vault:    e.vault.stage(),
		registry: e.registry.stage(),
		now:      e.now(),
		receipt:  Receipt{Operation: op},
	}
	if err := stage(tx); err != nil {
		if Classify(err) == ClassInternalConsistency {
			e.logger.Error("exchange internal fault", "operation", op, "error", err)
		}
		return Receipt{}, err
	}

	settlements, _ := e.journal.(SettlementLog)
	if settlements == nil || tx.external == nil {
		tx.settlement = nil
	}
	if tx.settlement != nil {
		tx.settlement.ID = uuid.NewString()
		if err := settlements.RecordPending(ctx, *tx.settlement); err != nil {
			return Receipt{}, fmt.Errorf("%w: record settlement: %w", ErrJournal, err)
		}
	}
	// paid is set once the payment may have moved; from then on the pending
	// record must outlive a failed commit.
	paid := false
	defer func() {
		if tx.settlement != nil && !paid {
			if err := settlements.ClearPending(context.WithoutCancel(ctx), tx.settlement.ID); err != nil {
				e.logger.Error("clear pending settlement failed", "settlement_id", tx.settlement.ID, "error", err)
			}
		}
	}()

	jtx, err := e.journal.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: begin: %w", ErrJournal, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := jtx.Rollback(ctx); rbErr != nil {
				e.logger.Error("journal rollback failed", "operation", op, "error", rbErr)
			}
		}
	}()

	if err := jtx.Apply(ctx, tx.changeset(op)); err != nil {
		return Receipt{}, fmt.Errorf("%w: apply: %w", ErrJournal, err)
	}

	if tx.external != nil {
		if err := tx.external(context.WithValue(ctx, settlementKey{}, true)); err != nil {
			return Receipt{}, err
		}
		paid = true
	}

	if err := jtx.Commit(ctx); err != nil {
		if paid {
			e.logger.Error("payment settled but journal commit failed",
				"operation", op,
				"listing_id", tx.receipt.Listing.ID,
				"settlement_id", tx.settlementID(),
				"error", err,
			)
		}
		return Receipt{}, fmt.Errorf("%w: commit: %w", ErrJournal, err)
	}
	committed = true

	e.mu.Lock()
	tx.vault.commit()
	tx.registry.commit()
	for _, ev := range tx.receipt.Events {
		if ev.Type == EventListingSold {
			e.trades = append(e.trades, ev)
		}
	}
	e.mu.Unlock()
	return tx.receipt, nil
}
