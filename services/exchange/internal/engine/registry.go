package engine

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
)

type ListingStatus uint8

const (
	ListingActive ListingStatus = iota + 1
	ListingSold
	ListingCancelled
)

func (s ListingStatus) String() string {
	switch s {
	case ListingActive:
		return "active"
	case ListingSold:
		return "sold"
	case ListingCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func ParseListingStatus(value string) (ListingStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "active":
		return ListingActive, nil
	case "sold":
		return ListingSold, nil
	case "cancelled":
		return ListingCancelled, nil
	default:
		return 0, fmt.Errorf("unknown listing status %q", value)
	}
}

// Listing is a read-only view of a listing record.
type Listing struct {
	ID        uint64
	Seller    Address
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Status    ListingStatus
	Buyer     Address
	CreatedAt time.Time
	ClosedAt  time.Time
}

func (l Listing) IsActive() bool {
	return l.Status == ListingActive
}

// listingRecord owns the lifecycle state; transition is the only writer of
// status.
type listingRecord struct {
	id        uint64
	seller    Address
	amount    decimal.Decimal
	price     decimal.Decimal
	status    ListingStatus
	buyer     Address
	createdAt time.Time
	closedAt  time.Time
}

func (r *listingRecord) transition(to ListingStatus, at time.Time) error {
	if r.status != ListingActive {
		return fmt.Errorf("%w: listing %d is %s", ErrListingNotActive, r.id, r.status)
	}
	if to != ListingSold && to != ListingCancelled {
		return fmt.Errorf("invalid listing transition %s -> %s", r.status, to)
	}
	r.status = to
	r.closedAt = at
	return nil
}

func (r *listingRecord) view() Listing {
	return Listing{
		ID:        r.id,
		Seller:    r.seller,
		Amount:    r.amount,
		Price:     r.price,
		Status:    r.status,
		Buyer:     r.buyer,
		CreatedAt: r.createdAt,
		ClosedAt:  r.closedAt,
	}
}

// ListingRegistry stores listings keyed by a monotonically increasing id.
type ListingRegistry struct {
	parent  *ListingRegistry
	records map[uint64]*listingRecord
	order   []uint64
	nextID  uint64
}

func NewListingRegistry() *ListingRegistry {
	return &ListingRegistry{
		records: make(map[uint64]*listingRecord),
		nextID:  1,
	}
}

// Create reserves amount of the seller's free balance in vault and records
// an Active listing. Nothing is recorded when the reservation fails.
func (r *ListingRegistry) Create(vault *EscrowVault, seller Address, amount, price decimal.Decimal, at time.Time) (Listing, error) {
	for _, v := range []decimal.Decimal{amount, price} {
		if err := safe.Check(v); err != nil {
			return Listing{}, amountError(err)
		}
		if v.IsZero() {
			return Listing{}, ErrZeroAmount
		}
	}
	if err := vault.LockForListing(seller, amount); err != nil {
		return Listing{}, err
	}

	rec := &listingRecord{
		id:        r.nextID,
		seller:    seller,
		amount:    amount,
		price:     price,
		status:    ListingActive,
		createdAt: at,
	}
	r.nextID++
	r.records[rec.id] = rec
	r.order = append(r.order, rec.id)
	return rec.view(), nil
}

func (r *ListingRegistry) Get(id uint64) (Listing, error) {
	rec := r.lookup(id)
	if rec == nil {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	return rec.view(), nil
}

// ListActiveIDs returns the ids of listings Active at call time, in
// creation order. The ids are collected eagerly when it is called; the
// returned sequence only replays that snapshot, so it can be ranged over
// any number of times and never observes later changes.
func (r *ListingRegistry) ListActiveIDs() iter.Seq[uint64] {
	var ids []uint64
	for _, id := range r.allIDs() {
		if rec := r.lookup(id); rec != nil && rec.status == ListingActive {
			ids = append(ids, id)
		}
	}
	return slices.Values(ids)
}

// Listings returns every listing in creation order.
func (r *ListingRegistry) Listings() []Listing {
	ids := r.allIDs()
	out := make([]Listing, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.lookup(id).view())
	}
	return out
}

func (r *ListingRegistry) NextID() uint64 {
	return r.nextID
}

func (r *ListingRegistry) markSold(id uint64, buyer Address, at time.Time) error {
	rec, err := r.writable(id)
	if err != nil {
		return err
	}
	if err := rec.transition(ListingSold, at); err != nil {
		return err
	}
	rec.buyer = buyer
	return nil
}

func (r *ListingRegistry) markCancelled(id uint64, at time.Time) error {
	rec, err := r.writable(id)
	if err != nil {
		return err
	}
	return rec.transition(ListingCancelled, at)
}

func (r *ListingRegistry) lookup(id uint64) *listingRecord {
	if rec, ok := r.records[id]; ok {
		return rec
	}
	if r.parent != nil {
		return r.parent.lookup(id)
	}
	return nil
}

// writable returns a record owned by r, copying it from the parent first so
// staged transitions stay private.
func (r *ListingRegistry) writable(id uint64) (*listingRecord, error) {
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	rec := r.lookup(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	cp := *rec
	r.records[id] = &cp
	return &cp, nil
}

func (r *ListingRegistry) allIDs() []uint64 {
	if r.parent == nil {
		return slices.Clone(r.order)
	}
	return append(r.parent.allIDs(), r.order...)
}

func (r *ListingRegistry) stage() *ListingRegistry {
	return &ListingRegistry{
		parent:  r,
		records: make(map[uint64]*listingRecord),
		nextID:  r.nextID,
	}
}

func (r *ListingRegistry) commit() {
	if r.parent == nil {
		return
	}
	for id, rec := range r.records {
		r.parent.records[id] = rec
	}
	r.parent.order = append(r.parent.order, r.order...)
	r.parent.nextID = r.nextID
	r.records = make(map[uint64]*listingRecord)
	r.order = nil
}

func (r *ListingRegistry) touched() []Listing {
	ids := make([]uint64, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Listing, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id].view())
	}
	return out
}

func (r *ListingRegistry) restore(listings []Listing, nextID uint64) error {
	if nextID == 0 {
		nextID = 1
	}
	records := make(map[uint64]*listingRecord, len(listings))
	order := make([]uint64, 0, len(listings))
	sorted := slices.Clone(listings)
	slices.SortFunc(sorted, func(a, b Listing) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for _, l := range sorted {
		if l.ID == 0 || l.ID >= nextID {
			return fmt.Errorf("%w: listing id %d outside [1, %d)", ErrInvariant, l.ID, nextID)
		}
		if _, dup := records[l.ID]; dup {
			return fmt.Errorf("%w: duplicate listing id %d", ErrInvariant, l.ID)
		}
		records[l.ID] = &listingRecord{
			id:        l.ID,
			seller:    l.Seller,
			amount:    l.Amount,
			price:     l.Price,
			status:    l.Status,
			buyer:     l.Buyer,
			createdAt: l.CreatedAt,
			closedAt:  l.ClosedAt,
		}
		order = append(order, l.ID)
	}
	r.records = records
	r.order = order
	r.nextID = nextID
	return nil
}
