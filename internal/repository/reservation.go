package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

const reservationColumns = `
	id,
	sku,
	product_id,
	quantity,
	buyer_id,
	status,
	expires_at,
	created_at,
	confirmed_at,
	updated_at`

// ReservationRepositoryImpl は ReservationStore の Postgres 実装です
type ReservationRepositoryImpl struct {
	db sqlx.ExtContext
}

// NewReservationRepository は新しいReservationRepositoryを作成します
func NewReservationRepository(db sqlx.ExtContext) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db}
}

// Insert は予約を作成します
func (r *ReservationRepositoryImpl) Insert(ctx context.Context, reservation *model.Reservation) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ReservationRepository.Insert")
	defer func() { tracing.Close(seg, err) }()

	query := `
		INSERT INTO reservations (
			id,
			sku,
			product_id,
			quantity,
			buyer_id,
			status,
			expires_at,
			created_at,
			confirmed_at,
			updated_at
		) VALUES (
			:id,
			:sku,
			:product_id,
			:quantity,
			:buyer_id,
			:status,
			:expires_at,
			:created_at,
			:confirmed_at,
			:updated_at
		)`

	if _, err = sqlx.NamedExecContext(ctx, r.db, query, reservation); err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// Get は予約を1件取得します
func (r *ReservationRepositoryImpl) Get(ctx context.Context, id string) (_ *model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ReservationRepository.Get")
	defer func() { tracing.Close(seg, err) }()

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	var reservation model.Reservation
	if err = sqlx.GetContext(ctx, r.db, &reservation, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &reservation, nil
}

// Query は、指定されたステータスで期限が expiresBefore より前の予約を取得します
func (r *ReservationRepositoryImpl) Query(ctx context.Context, status model.ReservationStatus, expiresBefore time.Time) (_ []model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ReservationRepository.Query")
	defer func() { tracing.Close(seg, err) }()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1
		AND expires_at < $2
		ORDER BY expires_at ASC`

	var reservations []model.Reservation
	if err = sqlx.SelectContext(ctx, r.db, &reservations, query, status, expiresBefore); err != nil {
		return nil, fmt.Errorf("failed to query reservations with status %s: %w", status, err)
	}
	return reservations, nil
}

// Transition は予約のステータスを条件付きで更新します
// 条件に一致しない場合は行を読み直して NotFound / Conflict / Expired を判定します
func (r *ReservationRepositoryImpl) Transition(ctx context.Context, id string, from, to model.ReservationStatus, opts TransitionOptions) (_ *model.Reservation, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ReservationRepository.Transition")
	defer func() { tracing.Close(seg, err) }()

	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, model.ErrConflict)
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var confirmedAt *time.Time
	if !opts.ConfirmedAt.IsZero() {
		confirmedAt = &opts.ConfirmedAt
	}

	args := []interface{}{to, at, confirmedAt, id, from}
	conds := []string{"id = $4", "status = $5"}
	if opts.BuyerID != "" {
		args = append(args, opts.BuyerID)
		conds = append(conds, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if !opts.NotExpiredAt.IsZero() {
		args = append(args, opts.NotExpiredAt)
		conds = append(conds, fmt.Sprintf("expires_at > $%d", len(args)))
	}
	if !opts.ExpiredBefore.IsZero() {
		args = append(args, opts.ExpiredBefore)
		conds = append(conds, fmt.Sprintf("expires_at < $%d", len(args)))
	}

	query := `
		UPDATE reservations
		SET status = $1,
			updated_at = $2,
			confirmed_at = COALESCE($3, confirmed_at)
		WHERE ` + strings.Join(conds, " AND ") + `
		RETURNING ` + reservationColumns

	var reservation model.Reservation
	err = sqlx.GetContext(ctx, r.db, &reservation, query, args...)
	if err == nil {
		return &reservation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil && !errors.Is(getErr, model.ErrNotFound) {
		return nil, getErr
	}
	return nil, fmt.Errorf("reservation %s: %w", id, ClassifyTransition(current, from, opts))
}
