package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
)

var base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func seedListing(t *testing.T, s *Store, sku string, total int, expiry time.Time) model.Listing {
	t.Helper()
	l := model.Listing{
		ID:            "listing-" + sku,
		SellerID:      "seller-1",
		SKU:           sku,
		TotalQuantity: total,
		ExpiryTime:    expiry,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	require.NoError(t, s.Ledger().CreateListing(context.Background(), &l))
	return l
}

func seedReservation(t *testing.T, s *Store, id, sku string, qty int, expiresAt time.Time) {
	t.Helper()
	r := model.Reservation{
		ID:        id,
		SKU:       sku,
		ProductID: "listing-" + sku,
		Quantity:  qty,
		BuyerID:   "buyer-1",
		Status:    model.ReservationStatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, s.Reservations().Insert(context.Background(), &r))
}

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name    string
		qty     int
		now     time.Time
		sku     string
		wantErr error
	}{
		{name: "在庫内の数量は引当できる", qty: 3, now: base, sku: "SKU-1"},
		{name: "在庫ちょうどの数量は引当できる", qty: 10, now: base, sku: "SKU-1"},
		{name: "在庫を超える数量は在庫不足", qty: 11, now: base, sku: "SKU-1", wantErr: model.ErrInsufficientInventory},
		{name: "存在しないSKUは見つからない", qty: 1, now: base, sku: "SKU-X", wantErr: model.ErrNotFoundOrExpired},
		{name: "期限切れの出品は見つからない扱い", qty: 1, now: base.Add(2 * time.Hour), sku: "SKU-1", wantErr: model.ErrNotFoundOrExpired},
		{name: "数量0はバリデーションエラー", qty: 0, now: base, sku: "SKU-1", wantErr: model.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(clock.NewFake(base))
			seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))

			got, err := s.Ledger().Reserve(context.Background(), tt.sku, tt.qty, tt.now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				l, _ := s.Listing("SKU-1")
				assert.Equal(t, 0, l.ReservedQuantity)
				assert.Equal(t, int64(0), l.Version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.qty, got.ReservedQuantity)
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func TestLedger_ReleaseAndCommit(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(base))
	seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))

	_, err := s.Ledger().Reserve(ctx, "SKU-1", 4, base)
	require.NoError(t, err)

	require.NoError(t, s.Ledger().Release(ctx, "SKU-1", 1))
	l, _ := s.Listing("SKU-1")
	assert.Equal(t, 3, l.ReservedQuantity)
	assert.Equal(t, int64(2), l.Version)

	// 確定は総数量のみ減らし、引当済み数量はそのまま
	require.NoError(t, s.Ledger().Commit(ctx, "SKU-1", 3))
	l, _ = s.Listing("SKU-1")
	assert.Equal(t, 7, l.TotalQuantity)
	assert.Equal(t, 3, l.ReservedQuantity)
	assert.Equal(t, int64(3), l.Version)

	t.Run("未知のSKUは何もしない", func(t *testing.T) {
		assert.NoError(t, s.Ledger().Release(ctx, "SKU-X", 1))
		assert.NoError(t, s.Ledger().Commit(ctx, "SKU-X", 1))
	})

	t.Run("引当済み数量を下回る解放はエラー", func(t *testing.T) {
		err := s.Ledger().Release(ctx, "SKU-1", 4)
		assert.Error(t, err)
		l, _ := s.Listing("SKU-1")
		assert.Equal(t, 3, l.ReservedQuantity)
	})
}

func TestLedger_ExpireListings(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(base))
	seedListing(t, s, "SKU-OLD", 5, base.Add(-time.Minute))
	seedListing(t, s, "SKU-NEW", 5, base.Add(time.Hour))

	n, err := s.Ledger().ExpireListings(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, _ := s.Listing("SKU-OLD")
	assert.True(t, old.IsExpired)
	assert.Equal(t, int64(1), old.Version)

	// 2回目は対象なし
	n, err = s.Ledger().ExpireListings(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestReservations_Transition(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		from    model.ReservationStatus
		to      model.ReservationStatus
		opts    repository.TransitionOptions
		wantErr error
	}{
		{
			name: "PENDINGからCONFIRMEDに遷移できる",
			id:   "r-1", from: model.ReservationStatusPending, to: model.ReservationStatusConfirmed,
			opts: repository.TransitionOptions{BuyerID: "buyer-1", NotExpiredAt: base, ConfirmedAt: base},
		},
		{
			name: "存在しない予約はNotFound",
			id:   "r-x", from: model.ReservationStatusPending, to: model.ReservationStatusCancelled,
			wantErr: model.ErrNotFound,
		},
		{
			name: "購入者が異なる場合はConflict",
			id:   "r-1", from: model.ReservationStatusPending, to: model.ReservationStatusCancelled,
			opts:    repository.TransitionOptions{BuyerID: "buyer-2"},
			wantErr: model.ErrConflict,
		},
		{
			name: "期限切れの確定はExpired",
			id:   "r-1", from: model.ReservationStatusPending, to: model.ReservationStatusConfirmed,
			opts:    repository.TransitionOptions{BuyerID: "buyer-1", NotExpiredAt: base.Add(10 * time.Minute)},
			wantErr: model.ErrExpired,
		},
		{
			name: "期限前の期限切れ遷移はConflict",
			id:   "r-1", from: model.ReservationStatusPending, to: model.ReservationStatusExpired,
			opts:    repository.TransitionOptions{ExpiredBefore: base},
			wantErr: model.ErrConflict,
		},
		{
			name: "定義されていない遷移はConflict",
			id:   "r-1", from: model.ReservationStatusConfirmed, to: model.ReservationStatusPending,
			wantErr: model.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(clock.NewFake(base))
			seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))
			seedReservation(t, s, "r-1", "SKU-1", 1, base.Add(5*time.Minute))

			got, err := s.Reservations().Transition(ctx, tt.id, tt.from, tt.to, tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				r, _ := s.Reservation("r-1")
				assert.Equal(t, model.ReservationStatusPending, r.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			require.NotNil(t, got.ConfirmedAt)
			assert.Equal(t, base, *got.ConfirmedAt)
		})
	}

	t.Run("同じ遷移の2回目はConflict", func(t *testing.T) {
		s := New(clock.NewFake(base))
		seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))
		seedReservation(t, s, "r-1", "SKU-1", 1, base.Add(5*time.Minute))

		_, err := s.Reservations().Transition(ctx, "r-1", model.ReservationStatusPending, model.ReservationStatusCancelled, repository.TransitionOptions{})
		require.NoError(t, err)
		_, err = s.Reservations().Transition(ctx, "r-1", model.ReservationStatusPending, model.ReservationStatusCancelled, repository.TransitionOptions{})
		assert.ErrorIs(t, err, model.ErrConflict)
	})
}

func TestReservations_Query(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(base))
	seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))
	seedReservation(t, s, "r-late", "SKU-1", 1, base.Add(-1*time.Minute))
	seedReservation(t, s, "r-early", "SKU-1", 1, base.Add(-5*time.Minute))
	seedReservation(t, s, "r-future", "SKU-1", 1, base.Add(5*time.Minute))

	got, err := s.Reservations().Query(ctx, model.ReservationStatusPending, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r-early", got[0].ID)
	assert.Equal(t, "r-late", got[1].ID)
}

func TestStore_InTxRollback(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(base))
	seedListing(t, s, "SKU-1", 10, base.Add(time.Hour))

	errBoom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Ledger().Reserve(ctx, "SKU-1", 5, base); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	l, _ := s.Listing("SKU-1")
	assert.Equal(t, 0, l.ReservedQuantity)
	assert.Equal(t, int64(0), l.Version)
}

func TestReservations_InsertRequiresListing(t *testing.T) {
	s := New(clock.NewFake(base))
	r := model.Reservation{ID: "r-1", SKU: "SKU-1", ProductID: "missing", Quantity: 1, Status: model.ReservationStatusPending}
	assert.Error(t, s.Reservations().Insert(context.Background(), &r))
}
