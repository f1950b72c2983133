package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TokenTransferAdapter is the external payment token. Implementations act
// on behalf of the exchange: TransferFrom spends an allowance the owner
// granted to the exchange, Transfer spends the exchange's own holdings.
// Amounts are raw smallest-unit integers of the payment token.
//
// TransferFrom and Transfer run while the calling operation still holds
// the exchange. An implementation may read exchange views, which report
// the state before that operation. A mutator invoked with the ctx it was
// handed, or any ctx derived from it, fails with ErrReentrantCall; invoked
// with an unrelated ctx it waits for the operation and so never returns.
type TokenTransferAdapter interface {
	Address() Address
	BalanceOf(ctx context.Context, account Address) (decimal.Decimal, error)
	TransferFrom(ctx context.Context, from, to Address, amount decimal.Decimal) error
	Transfer(ctx context.Context, to Address, amount decimal.Decimal) error
}

// ProofVerifier checks a zero-knowledge proof against its public inputs.
// No settlement path consults it.
type ProofVerifier interface {
	Address() Address
	Verify(ctx context.Context, proof []byte, publicInputs []*big.Int) (bool, error)
}

// Changeset is everything one committed operation changed.
type Changeset struct {
	Operation     string
	Accounts      []Balance
	Listings      []Listing
	NextListingID uint64
	Supply        Supply
	Events        []Event
	// Settlement is the id of the pending settlement this changeset
	// resolves, empty when no payment was recorded ahead of it.
	Settlement string
}

// Journal persists changesets. The exchange applies a changeset inside a
// journal transaction and commits it before the change becomes visible in
// memory.
type Journal interface {
	Begin(ctx context.Context) (JournalTx, error)
}

type JournalTx interface {
	Apply(ctx context.Context, cs Changeset) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PendingSettlement is a payment about to be pulled for an operation whose
// changeset has not committed yet.
type PendingSettlement struct {
	ID        string
	Operation string
	ListingID uint64
	From      Address
	To        Address
	Amount    decimal.Decimal
	At        time.Time
}

// SettlementLog is implemented by journals that durably record a payment
// before it is pulled. RecordPending commits on its own; the changeset
// naming the record removes it in the same journal transaction. A record
// still present after a restart means the payment may have moved while the
// trade was never journaled, and must be reconciled against the token.
type SettlementLog interface {
	RecordPending(ctx context.Context, p PendingSettlement) error
	ClearPending(ctx context.Context, id string) error
}

// Snapshot is the persisted state the exchange is restored from.
type Snapshot struct {
	Accounts      []Balance
	Listings      []Listing
	NextListingID uint64
	Deposited     decimal.Decimal
	Withdrawn     decimal.Decimal
	Trades        []Event
	Pending       []PendingSettlement
}

// NopJournal keeps no record.
type NopJournal struct{}

func (NopJournal) Begin(context.Context) (JournalTx, error) { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Apply(context.Context, Changeset) error { return nil }
func (nopTx) Commit(context.Context) error           { return nil }
func (nopTx) Rollback(context.Context) error         { return nil }
