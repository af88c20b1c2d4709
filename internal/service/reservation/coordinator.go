package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
)

// Coordinator は購入者の仮押さえ・確定・キャンセルを調停します
// 各操作はちょうど1つのトランザクションで実行します
type Coordinator struct {
	store        repository.Store
	clock        clock.Clock
	holdDuration time.Duration
	newID        func() string
}

// NewCoordinator は新しいCoordinatorを作成します
func NewCoordinator(store repository.Store, clk clock.Clock, holdDuration time.Duration) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		store:        store,
		clock:        clk,
		holdDuration: holdDuration,
		newID:        func() string { return uuid.New().String() },
	}
}

// Reserve は在庫を引き当てて PENDING の予約を作成します
func (c *Coordinator) Reserve(ctx context.Context, buyerID, sku string, qty int) (_ *model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "Coordinator.Reserve")
	defer func() { tracing.Close(seg, err) }()

	if strings.TrimSpace(buyerID) == "" {
		return nil, model.NewValidationError("buyer_id", "is required")
	}
	if strings.TrimSpace(sku) == "" {
		return nil, model.NewValidationError("sku", "is required")
	}
	if qty <= 0 {
		return nil, model.NewValidationError("quantity", "must be greater than zero")
	}

	now := c.clock.Now()
	var created model.Reservation

	err = c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		listing, err := tx.Ledger().Reserve(ctx, sku, qty, now)
		if err != nil {
			return err
		}

		created = model.Reservation{
			ID:        c.newID(),
			SKU:       sku,
			ProductID: listing.ID,
			Quantity:  qty,
			BuyerID:   buyerID,
			Status:    model.ReservationStatusPending,
			ExpiresAt: now.Add(c.holdDuration),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Reservations().Insert(ctx, &created); err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %s: %w", sku, err)
	}

	log.Info().
		Str("reservation_id", created.ID).
		Str("sku", sku).
		Int("quantity", qty).
		Time("expires_at", created.ExpiresAt).
		Msg("Reservation created")
	return &created, nil
}

// Confirm は期限内の PENDING 予約を確定し、総数量から差し引きます
func (c *Coordinator) Confirm(ctx context.Context, reservationID, buyerID string) (_ *model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "Coordinator.Confirm")
	defer func() { tracing.Close(seg, err) }()

	// 空の購入者IDは遷移条件から外れてしまうため受け付けない
	if strings.TrimSpace(buyerID) == "" {
		return nil, model.NewValidationError("buyer_id", "is required")
	}

	now := c.clock.Now()
	var confirmed *model.Reservation

	err = c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.Reservations().Transition(ctx, reservationID,
			model.ReservationStatusPending, model.ReservationStatusConfirmed,
			repository.TransitionOptions{
				BuyerID:      buyerID,
				NotExpiredAt: now,
				ConfirmedAt:  now,
				At:           now,
			})
		if err != nil {
			return err
		}
		if err := tx.Ledger().Commit(ctx, r.SKU, r.Quantity); err != nil {
			return err
		}
		confirmed = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm reservation %s: %w", reservationID, err)
	}

	log.Info().
		Str("reservation_id", reservationID).
		Str("sku", confirmed.SKU).
		Int("quantity", confirmed.Quantity).
		Msg("Reservation confirmed")
	return confirmed, nil
}

// Cancel は PENDING 予約を取り消し、引当を戻します
func (c *Coordinator) Cancel(ctx context.Context, reservationID, buyerID string) (_ *model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "Coordinator.Cancel")
	defer func() { tracing.Close(seg, err) }()

	// 空の購入者IDは遷移条件から外れてしまうため受け付けない
	if strings.TrimSpace(buyerID) == "" {
		return nil, model.NewValidationError("buyer_id", "is required")
	}

	now := c.clock.Now()
	var cancelled *model.Reservation

	err = c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.Reservations().Transition(ctx, reservationID,
			model.ReservationStatusPending, model.ReservationStatusCancelled,
			repository.TransitionOptions{BuyerID: buyerID, At: now})
		if err != nil {
			return err
		}
		if err := tx.Ledger().Release(ctx, r.SKU, r.Quantity); err != nil {
			return err
		}
		cancelled = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reservation %s: %w", reservationID, err)
	}

	log.Info().
		Str("reservation_id", reservationID).
		Str("sku", cancelled.SKU).
		Int("quantity", cancelled.Quantity).
		Msg("Reservation cancelled")
	return cancelled, nil
}

// Get は予約を取得します
func (c *Coordinator) Get(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return c.store.Reservations().Get(ctx, reservationID)
}
