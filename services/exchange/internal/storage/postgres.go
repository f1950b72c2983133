package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/kafka"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

var ErrDuplicateEvent = errors.New("event already journaled")

var (
	_ engine.Journal       = (*Store)(nil)
	_ engine.SettlementLog = (*Store)(nil)
)

// Store journals exchange changesets to Postgres and loads them back. It
// also keeps the log of payments in flight.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens a journal transaction. The state row is locked for the
// lifetime of the transaction so two writers never interleave changesets.
func (s *Store) Begin(ctx context.Context) (engine.JournalTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO exchange_state (id, next_listing_id, deposited, withdrawn)
		VALUES (1, 1, 0, 0)
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT id FROM exchange_state WHERE id = 1 FOR UPDATE`); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &journalTx{tx: tx, logger: s.logger}, nil
}

type journalTx struct {
	tx     pgx.Tx
	logger *slog.Logger
}

func (j *journalTx) Apply(ctx context.Context, cs engine.Changeset) error {
	now := time.Now().UTC()
	for _, bal := range cs.Accounts {
		if _, err := j.tx.Exec(ctx, `
			INSERT INTO exchange_accounts (address, balance_free, balance_escrowed, updated_at)
			VALUES ($1, $2::numeric, $3::numeric, $4)
			ON CONFLICT (address) DO UPDATE
			SET balance_free = EXCLUDED.balance_free,
			    balance_escrowed = EXCLUDED.balance_escrowed,
			    updated_at = EXCLUDED.updated_at
		`, string(bal.Account), safe.Format(bal.Free), safe.Format(bal.Escrowed), now); err != nil {
			return fmt.Errorf("upsert account %s: %w", bal.Account, err)
		}
	}

	for _, l := range cs.Listings {
		if _, err := j.tx.Exec(ctx, `
			INSERT INTO exchange_listings (id, seller, amount, price, status, buyer, created_at, closed_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status,
			    buyer = EXCLUDED.buyer,
			    closed_at = EXCLUDED.closed_at
		`, int64(l.ID), string(l.Seller), safe.Format(l.Amount), safe.Format(l.Price), l.Status.String(),
			nullableAddress(l.Buyer), l.CreatedAt, nullableTime(l.ClosedAt)); err != nil {
			return fmt.Errorf("upsert listing %d: %w", l.ID, err)
		}
	}

	for _, ev := range cs.Events {
		if _, err := j.tx.Exec(ctx, `
			INSERT INTO exchange_events (event_id, event_type, listing_id, seller, buyer, amount, price, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
		`, EventID(ev), string(ev.Type), int64(ev.ListingID), string(ev.Seller), nullableAddress(ev.Buyer),
			nullableAmount(ev.Amount), nullableAmount(ev.Price), ev.At); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s listing %d", ErrDuplicateEvent, ev.Type, ev.ListingID)
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if cs.Settlement != "" {
		if _, err := j.tx.Exec(ctx, `DELETE FROM exchange_pending_settlements WHERE id = $1`, cs.Settlement); err != nil {
			return fmt.Errorf("resolve settlement %s: %w", cs.Settlement, err)
		}
	}

	if _, err := j.tx.Exec(ctx, `
		UPDATE exchange_state
		SET next_listing_id = $1, deposited = $2::numeric, withdrawn = $3::numeric, updated_at = $4
		WHERE id = 1
	`, int64(cs.NextListingID), safe.Format(cs.Supply.Deposited), safe.Format(cs.Supply.Withdrawn), now); err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

func (j *journalTx) Commit(ctx context.Context) error {
	return j.tx.Commit(ctx)
}

func (j *journalTx) Rollback(ctx context.Context) error {
	if err := j.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// RecordPending stores p outside any journal transaction so it survives a
// failed commit.
func (s *Store) RecordPending(ctx context.Context, p engine.PendingSettlement) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO exchange_pending_settlements (id, operation, listing_id, payer, payee, amount, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
	`, p.ID, p.Operation, int64(p.ListingID), string(p.From), string(p.To), safe.Format(p.Amount), p.At); err != nil {
		return fmt.Errorf("record settlement %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) ClearPending(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM exchange_pending_settlements WHERE id = $1`, id); err != nil {
		return fmt.Errorf("clear settlement %s: %w", id, err)
	}
	return nil
}

// LoadSnapshot reads the full journaled state.
func (s *Store) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	snap := engine.Snapshot{NextListingID: 1, Deposited: decimal.Zero, Withdrawn: decimal.Zero}

	var nextID int64
	var depositedStr, withdrawnStr string
	err := s.pool.QueryRow(ctx, `
		SELECT next_listing_id, deposited::text, withdrawn::text FROM exchange_state WHERE id = 1
	`).Scan(&nextID, &depositedStr, &withdrawnStr)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if snap.Pending, err = s.loadPending(ctx); err != nil {
			return engine.Snapshot{}, err
		}
		return snap, nil
	case err != nil:
		return engine.Snapshot{}, err
	}
	snap.NextListingID = uint64(nextID)
	if snap.Deposited, err = parseAmount("deposited", depositedStr); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Withdrawn, err = parseAmount("withdrawn", withdrawnStr); err != nil {
		return engine.Snapshot{}, err
	}

	if snap.Accounts, err = s.loadAccounts(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Listings, err = s.loadListings(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Trades, err = s.loadTrades(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Pending, err = s.loadPending(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadAccounts(ctx context.Context) ([]engine.Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, balance_free::text, balance_escrowed::text FROM exchange_accounts ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Balance
	for rows.Next() {
		var addr, freeStr, escrowStr string
		if err := rows.Scan(&addr, &freeStr, &escrowStr); err != nil {
			return nil, err
		}
		bal := engine.Balance{Account: engine.Address(addr)}
		if bal.Free, err = parseAmount("balance_free", freeStr); err != nil {
			return nil, err
		}
		if bal.Escrowed, err = parseAmount("balance_escrowed", escrowStr); err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

func (s *Store) loadListings(ctx context.Context) ([]engine.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seller, amount::text, price::text, status, buyer, created_at, closed_at
		FROM exchange_listings ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Listing
	for rows.Next() {
		var (
			id                          int64
			seller, amountStr, priceStr string
			statusStr                   string
			buyer                       *string
			createdAt                   time.Time
			closedAt                    *time.Time
		)
		if err := rows.Scan(&id, &seller, &amountStr, &priceStr, &statusStr, &buyer, &createdAt, &closedAt); err != nil {
			return nil, err
		}
		l := engine.Listing{ID: uint64(id), Seller: engine.Address(seller), CreatedAt: createdAt}
		if l.Amount, err = parseAmount("amount", amountStr); err != nil {
			return nil, err
		}
		if l.Price, err = parseAmount("price", priceStr); err != nil {
			return nil, err
		}
		if l.Status, err = engine.ParseListingStatus(statusStr); err != nil {
			return nil, err
		}
		if buyer != nil {
			l.Buyer = engine.Address(*buyer)
		}
		if closedAt != nil {
			l.ClosedAt = *closedAt
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) loadTrades(ctx context.Context) ([]engine.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT listing_id, seller, buyer, amount::text, price::text, occurred_at
		FROM exchange_events WHERE event_type = $1 ORDER BY seq
	`, string(engine.EventListingSold))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var (
			id                  int64
			seller, buyer       string
			amountStr, priceStr string
			at                  time.Time
		)
		if err := rows.Scan(&id, &seller, &buyer, &amountStr, &priceStr, &at); err != nil {
			return nil, err
		}
		ev := engine.Event{
			Type:      engine.EventListingSold,
			ListingID: uint64(id),
			Seller:    engine.Address(seller),
			Buyer:     engine.Address(buyer),
			At:        at,
		}
		if ev.Amount, err = parseAmount("amount", amountStr); err != nil {
			return nil, err
		}
		if ev.Price, err = parseAmount("price", priceStr); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) loadPending(ctx context.Context) ([]engine.PendingSettlement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, operation, listing_id, payer, payee, amount::text, recorded_at
		FROM exchange_pending_settlements ORDER BY recorded_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.PendingSettlement
	for rows.Next() {
		var (
			p            engine.PendingSettlement
			listingID    int64
			payer, payee string
			amountStr    string
		)
		if err := rows.Scan(&p.ID, &p.Operation, &listingID, &payer, &payee, &amountStr, &p.At); err != nil {
			return nil, err
		}
		p.ListingID = uint64(listingID)
		p.From = engine.Address(payer)
		p.To = engine.Address(payee)
		if p.Amount, err = parseAmount("amount", amountStr); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventID is stable for an event so journal rows and published messages
// can be matched and deduplicated.
func EventID(ev engine.Event) string {
	return kafka.DeterministicEventID("exchange", string(ev.Type), strconv.FormatUint(ev.ListingID, 10))
}

func parseAmount(column, value string) (decimal.Decimal, error) {
	amount, err := safe.ParseAmount(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", column, err)
	}
	return amount, nil
}

func nullableAddress(a engine.Address) *string {
	if a == "" {
		return nil
	}
	s := string(a)
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableAmount(d decimal.Decimal) *string {
	if d.IsZero() {
		return nil
	}
	s := safe.Format(d)
	return &s
}
