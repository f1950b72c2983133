package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	seller = MustAddress("0x1111111111111111111111111111111111111111")
	buyer  = MustAddress("0x2222222222222222222222222222222222222222")
	other  = MustAddress("0x3333333333333333333333333333333333333333")
)

var errNoAllowance = errors.New("insufficient allowance")

type transfer struct {
	from, to Address
	amount   decimal.Decimal
}

// fakeToken pays from a per-owner allowance granted to the exchange.
type fakeToken struct {
	balances   map[Address]decimal.Decimal
	allowances map[Address]decimal.Decimal
	transfers  []transfer
	onTransfer func(ctx context.Context) error
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances:   make(map[Address]decimal.Decimal),
		allowances: make(map[Address]decimal.Decimal),
	}
}

func (f *fakeToken) fund(owner Address, amount int64) {
	f.balances[owner] = f.balances[owner].Add(decimal.NewFromInt(amount))
	f.allowances[owner] = f.allowances[owner].Add(decimal.NewFromInt(amount))
}

func (f *fakeToken) Address() Address {
	return MustAddress("0x00000000000000000000000000000000000000aa")
}

func (f *fakeToken) BalanceOf(_ context.Context, account Address) (decimal.Decimal, error) {
	return f.balances[account], nil
}

func (f *fakeToken) TransferFrom(ctx context.Context, from, to Address, amount decimal.Decimal) error {
	if f.onTransfer != nil {
		if err := f.onTransfer(ctx); err != nil {
			return err
		}
	}
	if f.allowances[from].LessThan(amount) || f.balances[from].LessThan(amount) {
		return errNoAllowance
	}
	f.allowances[from] = f.allowances[from].Sub(amount)
	f.balances[from] = f.balances[from].Sub(amount)
	f.balances[to] = f.balances[to].Add(amount)
	f.transfers = append(f.transfers, transfer{from: from, to: to, amount: amount})
	return nil
}

func (f *fakeToken) Transfer(_ context.Context, to Address, amount decimal.Decimal) error {
	f.balances[to] = f.balances[to].Add(amount)
	return nil
}

type recordingJournal struct {
	applied    []Changeset
	committed  []Changeset
	failApply  error
	failCommit error
	failRecord error

	recorded []PendingSettlement
	pending  map[string]PendingSettlement
}

func (j *recordingJournal) RecordPending(_ context.Context, p PendingSettlement) error {
	if j.failRecord != nil {
		return j.failRecord
	}
	if j.pending == nil {
		j.pending = make(map[string]PendingSettlement)
	}
	j.recorded = append(j.recorded, p)
	j.pending[p.ID] = p
	return nil
}

func (j *recordingJournal) ClearPending(_ context.Context, id string) error {
	delete(j.pending, id)
	return nil
}

func (j *recordingJournal) Begin(context.Context) (JournalTx, error) {
	return &recordingTx{journal: j}, nil
}

type recordingTx struct {
	journal *recordingJournal
	pending []Changeset
}

func (tx *recordingTx) Apply(_ context.Context, cs Changeset) error {
	if tx.journal.failApply != nil {
		return tx.journal.failApply
	}
	tx.journal.applied = append(tx.journal.applied, cs)
	tx.pending = append(tx.pending, cs)
	return nil
}

func (tx *recordingTx) Commit(context.Context) error {
	if tx.journal.failCommit != nil {
		return tx.journal.failCommit
	}
	tx.journal.committed = append(tx.journal.committed, tx.pending...)
	for _, cs := range tx.pending {
		if cs.Settlement != "" {
			delete(tx.journal.pending, cs.Settlement)
		}
	}
	return nil
}

func (tx *recordingTx) Rollback(context.Context) error { return nil }

func fixedClock() func() time.Time {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func units(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
