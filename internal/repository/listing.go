package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

// Postgres の unique_violation
const uniqueViolation = pq.ErrorCode("23505")

const listingColumns = `
	id,
	seller_id,
	sku,
	total_quantity,
	reserved_quantity,
	expiry_time,
	is_expired,
	version,
	created_at,
	updated_at`

// ListingRepositoryImpl は InventoryLedger の Postgres 実装です
type ListingRepositoryImpl struct {
	db sqlx.ExtContext
}

// NewListingRepository は新しいListingRepositoryを作成します
// db には *DB と *sqlx.Tx のどちらも渡せます
func NewListingRepository(db sqlx.ExtContext) *ListingRepositoryImpl {
	return &ListingRepositoryImpl{db: db}
}

// CreateListing は出品を登録します
func (r *ListingRepositoryImpl) CreateListing(ctx context.Context, listing *model.Listing) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.CreateListing")
	defer func() { tracing.Close(seg, err) }()

	query := `
		INSERT INTO listings (
			id, seller_id, sku, total_quantity, reserved_quantity,
			expiry_time, is_expired, version, created_at, updated_at
		) VALUES (
			:id, :seller_id, :sku, :total_quantity, :reserved_quantity,
			:expiry_time, :is_expired, :version, :created_at, :updated_at
		)`

	if _, err = sqlx.NamedExecContext(ctx, r.db, query, listing); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("sku %s: %w", listing.SKU, model.ErrDuplicateSKU)
		}
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// GetListing は sku の出品を取得します
func (r *ListingRepositoryImpl) GetListing(ctx context.Context, sku string) (_ *model.Listing, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.GetListing")
	defer func() { tracing.Close(seg, err) }()

	query := `SELECT ` + listingColumns + ` FROM listings WHERE sku = $1`

	var listing model.Listing
	if err = sqlx.GetContext(ctx, r.db, &listing, query, sku); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sku %s: %w", sku, model.ErrNotFoundOrExpired)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

// Reserve は条件付き更新1回で在庫を引き当てます
// 更新が0件の場合のみ、失敗理由の判定のために行を読み直します
func (r *ListingRepositoryImpl) Reserve(ctx context.Context, sku string, qty int, now time.Time) (_ *model.Listing, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.Reserve")
	defer func() { tracing.Close(seg, err) }()

	if qty <= 0 {
		return nil, model.NewValidationError("quantity", "must be greater than zero")
	}

	query := `
		UPDATE listings
		SET reserved_quantity = reserved_quantity + $2,
			version = version + 1,
			updated_at = $3
		WHERE sku = $1
		AND expiry_time > $3
		AND total_quantity - reserved_quantity >= $2
		RETURNING ` + listingColumns

	var listing model.Listing
	err = sqlx.GetContext(ctx, r.db, &listing, query, sku, qty, now)
	if err == nil {
		return &listing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reserve inventory: %w", err)
	}

	current, getErr := r.GetListing(ctx, sku)
	if getErr != nil && !errors.Is(getErr, model.ErrNotFoundOrExpired) {
		return nil, getErr
	}
	return nil, fmt.Errorf("sku %s: %w", sku, ClassifyReserve(current, now))
}

// Release は引当済み数量を戻します
// 0未満になる場合は CHECK 制約で失敗し、トランザクションごと中断されます
func (r *ListingRepositoryImpl) Release(ctx context.Context, sku string, qty int) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.Release")
	defer func() { tracing.Close(seg, err) }()

	query := `
		UPDATE listings
		SET reserved_quantity = reserved_quantity - $2,
			version = version + 1,
			updated_at = NOW()
		WHERE sku = $1`

	if _, err = r.db.ExecContext(ctx, query, sku, qty); err != nil {
		return fmt.Errorf("failed to release inventory: %w", err)
	}
	return nil
}

// Commit は販売確定分を総数量から差し引きます
func (r *ListingRepositoryImpl) Commit(ctx context.Context, sku string, qty int) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.Commit")
	defer func() { tracing.Close(seg, err) }()

	query := `
		UPDATE listings
		SET total_quantity = total_quantity - $2,
			version = version + 1,
			updated_at = NOW()
		WHERE sku = $1`

	if _, err = r.db.ExecContext(ctx, query, sku, qty); err != nil {
		return fmt.Errorf("failed to commit inventory: %w", err)
	}
	return nil
}

// ExpireListings は期限切れの出品にフラグを立てます
func (r *ListingRepositoryImpl) ExpireListings(ctx context.Context, now time.Time) (_ int64, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingRepository.ExpireListings")
	defer func() { tracing.Close(seg, err) }()

	query := `
		UPDATE listings
		SET is_expired = TRUE,
			version = version + 1,
			updated_at = $1
		WHERE expiry_time < $1
		AND NOT is_expired`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire listings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
