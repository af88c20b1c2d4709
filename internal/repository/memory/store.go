// Package memory はプロセス内で完結する Store の実装です
// ローカル実行とテストで Postgres の代わりに使います
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
)

// Store は repository.Store のインメモリ実装です
// トランザクションはスナップショットに対して実行し、成功時のみ差し替えます
// mu はデータベースのトランザクション分離を模したもので、呼び出し側の排他ではありません
type Store struct {
	mu    sync.Mutex
	data  *state
	clock clock.Clock
}

var _ repository.Store = (*Store)(nil)

type state struct {
	listings     map[string]model.Listing // key: sku
	reservations map[string]model.Reservation
}

func (s *state) clone() *state {
	c := &state{
		listings:     make(map[string]model.Listing, len(s.listings)),
		reservations: make(map[string]model.Reservation, len(s.reservations)),
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.reservations {
		if v.ConfirmedAt != nil {
			t := *v.ConfirmedAt
			v.ConfirmedAt = &t
		}
		c.reservations[k] = v
	}
	return c
}

// New は空の Store を作成します。clk が nil の場合は実時間を使います
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		data: &state{
			listings:     map[string]model.Listing{},
			reservations: map[string]model.Reservation{},
		},
		clock: clk,
	}
}

// InTx は fn をひとつのトランザクションで実行します
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &txScope{data: work, clock: s.clock}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.data = work
	return nil
}

// Ledger は1呼び出しごとにコミットされる在庫リポジトリを返します
func (s *Store) Ledger() repository.InventoryLedger {
	return &autoLedger{s: s}
}

// Reservations は1呼び出しごとにコミットされる予約リポジトリを返します
func (s *Store) Reservations() repository.ReservationStore {
	return &autoReservations{s: s}
}

// Listing はテスト用に現在の出品を返します
func (s *Store) Listing(sku string) (model.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.listings[sku]
	return l, ok
}

// Reservation はテスト用に現在の予約を返します
func (s *Store) Reservation(id string) (model.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.reservations[id]
	return r, ok
}

type txScope struct {
	data  *state
	clock clock.Clock
}

func (t *txScope) Ledger() repository.InventoryLedger {
	return &ledger{data: t.data, clock: t.clock}
}

func (t *txScope) Reservations() repository.ReservationStore {
	return &reservations{data: t.data, clock: t.clock}
}

type ledger struct {
	data  *state
	clock clock.Clock
}

func (l *ledger) CreateListing(_ context.Context, listing *model.Listing) error {
	if _, ok := l.data.listings[listing.SKU]; ok {
		return fmt.Errorf("sku %s: %w", listing.SKU, model.ErrDuplicateSKU)
	}
	l.data.listings[listing.SKU] = *listing
	return nil
}

func (l *ledger) GetListing(_ context.Context, sku string) (*model.Listing, error) {
	listing, ok := l.data.listings[sku]
	if !ok {
		return nil, fmt.Errorf("sku %s: %w", sku, model.ErrNotFoundOrExpired)
	}
	return &listing, nil
}

func (l *ledger) Reserve(_ context.Context, sku string, qty int, now time.Time) (*model.Listing, error) {
	if qty <= 0 {
		return nil, model.NewValidationError("quantity", "must be greater than zero")
	}

	listing, ok := l.data.listings[sku]
	if !ok || !listing.IsActiveAt(now) || listing.AvailableQuantity() < qty {
		var current *model.Listing
		if ok {
			current = &listing
		}
		return nil, fmt.Errorf("sku %s: %w", sku, repository.ClassifyReserve(current, now))
	}

	listing.ReservedQuantity += qty
	listing.Version++
	listing.UpdatedAt = now
	l.data.listings[sku] = listing
	return &listing, nil
}

func (l *ledger) Release(_ context.Context, sku string, qty int) error {
	listing, ok := l.data.listings[sku]
	if !ok {
		return nil
	}
	if listing.ReservedQuantity-qty < 0 {
		return fmt.Errorf("failed to release inventory: reserved_quantity of %s would become negative", sku)
	}
	listing.ReservedQuantity -= qty
	listing.Version++
	listing.UpdatedAt = l.clock.Now()
	l.data.listings[sku] = listing
	return nil
}

func (l *ledger) Commit(_ context.Context, sku string, qty int) error {
	listing, ok := l.data.listings[sku]
	if !ok {
		return nil
	}
	if listing.TotalQuantity-qty < 0 {
		return fmt.Errorf("failed to commit inventory: total_quantity of %s would become negative", sku)
	}
	listing.TotalQuantity -= qty
	listing.Version++
	listing.UpdatedAt = l.clock.Now()
	l.data.listings[sku] = listing
	return nil
}

func (l *ledger) ExpireListings(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for sku, listing := range l.data.listings {
		if listing.IsExpired || !listing.ExpiryTime.Before(now) {
			continue
		}
		listing.IsExpired = true
		listing.Version++
		listing.UpdatedAt = now
		l.data.listings[sku] = listing
		n++
	}
	return n, nil
}

type reservations struct {
	data  *state
	clock clock.Clock
}

func (r *reservations) Insert(_ context.Context, reservation *model.Reservation) error {
	if _, ok := r.data.reservations[reservation.ID]; ok {
		return fmt.Errorf("failed to create reservation: duplicate id %s", reservation.ID)
	}
	found := false
	for _, l := range r.data.listings {
		if l.ID == reservation.ProductID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("failed to create reservation: unknown product_id %s", reservation.ProductID)
	}
	r.data.reservations[reservation.ID] = *reservation
	return nil
}

func (r *reservations) Get(_ context.Context, id string) (*model.Reservation, error) {
	reservation, ok := r.data.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return &reservation, nil
}

func (r *reservations) Query(_ context.Context, status model.ReservationStatus, expiresBefore time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, reservation := range r.data.reservations {
		if reservation.Status == status && reservation.ExpiresAt.Before(expiresBefore) {
			out = append(out, reservation)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (r *reservations) Transition(_ context.Context, id string, from, to model.ReservationStatus, opts repository.TransitionOptions) (*model.Reservation, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, model.ErrConflict)
	}

	reservation, ok := r.data.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if !opts.Matches(reservation, from) {
		return nil, fmt.Errorf("reservation %s: %w", id, repository.ClassifyTransition(&reservation, from, opts))
	}

	at := opts.At
	if at.IsZero() {
		at = r.clock.Now()
	}
	reservation.Status = to
	reservation.UpdatedAt = at
	if !opts.ConfirmedAt.IsZero() {
		confirmedAt := opts.ConfirmedAt
		reservation.ConfirmedAt = &confirmedAt
	}
	r.data.reservations[id] = reservation
	return &reservation, nil
}

// autoLedger は呼び出しごとに InTx を使う ledger です
type autoLedger struct {
	s *Store
}

func (a *autoLedger) run(ctx context.Context, fn func(l repository.InventoryLedger) error) error {
	return a.s.InTx(ctx, func(_ context.Context, tx repository.Tx) error {
		return fn(tx.Ledger())
	})
}

func (a *autoLedger) CreateListing(ctx context.Context, listing *model.Listing) error {
	return a.run(ctx, func(l repository.InventoryLedger) error {
		return l.CreateListing(ctx, listing)
	})
}

func (a *autoLedger) GetListing(ctx context.Context, sku string) (out *model.Listing, err error) {
	err = a.run(ctx, func(l repository.InventoryLedger) error {
		out, err = l.GetListing(ctx, sku)
		return err
	})
	return out, err
}

func (a *autoLedger) Reserve(ctx context.Context, sku string, qty int, now time.Time) (out *model.Listing, err error) {
	err = a.run(ctx, func(l repository.InventoryLedger) error {
		out, err = l.Reserve(ctx, sku, qty, now)
		return err
	})
	return out, err
}

func (a *autoLedger) Release(ctx context.Context, sku string, qty int) error {
	return a.run(ctx, func(l repository.InventoryLedger) error {
		return l.Release(ctx, sku, qty)
	})
}

func (a *autoLedger) Commit(ctx context.Context, sku string, qty int) error {
	return a.run(ctx, func(l repository.InventoryLedger) error {
		return l.Commit(ctx, sku, qty)
	})
}

func (a *autoLedger) ExpireListings(ctx context.Context, now time.Time) (n int64, err error) {
	err = a.run(ctx, func(l repository.InventoryLedger) error {
		n, err = l.ExpireListings(ctx, now)
		return err
	})
	return n, err
}

// autoReservations は呼び出しごとに InTx を使う予約リポジトリです
type autoReservations struct {
	s *Store
}

func (a *autoReservations) run(ctx context.Context, fn func(r repository.ReservationStore) error) error {
	return a.s.InTx(ctx, func(_ context.Context, tx repository.Tx) error {
		return fn(tx.Reservations())
	})
}

func (a *autoReservations) Insert(ctx context.Context, reservation *model.Reservation) error {
	return a.run(ctx, func(r repository.ReservationStore) error {
		return r.Insert(ctx, reservation)
	})
}

func (a *autoReservations) Get(ctx context.Context, id string) (out *model.Reservation, err error) {
	err = a.run(ctx, func(r repository.ReservationStore) error {
		out, err = r.Get(ctx, id)
		return err
	})
	return out, err
}

func (a *autoReservations) Query(ctx context.Context, status model.ReservationStatus, expiresBefore time.Time) (out []model.Reservation, err error) {
	err = a.run(ctx, func(r repository.ReservationStore) error {
		out, err = r.Query(ctx, status, expiresBefore)
		return err
	})
	return out, err
}

func (a *autoReservations) Transition(ctx context.Context, id string, from, to model.ReservationStatus, opts repository.TransitionOptions) (out *model.Reservation, err error) {
	err = a.run(ctx, func(r repository.ReservationStore) error {
		out, err = r.Transition(ctx, id, from, to, opts)
		return err
	})
	return out, err
}
