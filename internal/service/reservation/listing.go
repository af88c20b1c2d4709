package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
)

// ListingService は出品者向けの出品登録と在庫確認を担当します
type ListingService struct {
	store repository.Store
	clock clock.Clock
	newID func() string
}

// NewListingService は新しいListingServiceを作成します
func NewListingService(store repository.Store, clk clock.Clock) *ListingService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ListingService{
		store: store,
		clock: clk,
		newID: func() string { return uuid.New().String() },
	}
}

// CreateListing は出品を登録します
// 同じ sku の出品がすでにある場合は model.ErrDuplicateSKU を返します
func (s *ListingService) CreateListing(ctx context.Context, in model.CreateListingInput) (_ *model.Listing, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingService.CreateListing")
	defer func() { tracing.Close(seg, err) }()

	now := s.clock.Now()
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	listing := model.Listing{
		ID:            s.newID(),
		SellerID:      in.SellerID,
		SKU:           in.SKU,
		TotalQuantity: in.TotalQuantity,
		ExpiryTime:    in.ExpiryTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// 事前チェックで大半の重複を弾き、競合した場合は一意制約違反で検出する
		_, err := tx.Ledger().GetListing(ctx, in.SKU)
		switch {
		case err == nil:
			return fmt.Errorf("sku %s: %w", in.SKU, model.ErrDuplicateSKU)
		case !errors.Is(err, model.ErrNotFoundOrExpired):
			return err
		}
		return tx.Ledger().CreateListing(ctx, &listing)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	log.Info().
		Str("listing_id", listing.ID).
		Str("seller_id", listing.SellerID).
		Str("sku", listing.SKU).
		Int("total_quantity", listing.TotalQuantity).
		Msg("Listing created")
	return &listing, nil
}

// CheckAvailability は有効な出品の引当可能数量を返します
// 参考値であり、この結果をもとに引当を判定してはいけません
func (s *ListingService) CheckAvailability(ctx context.Context, sku string, qty int) (_ *model.Availability, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ListingService.CheckAvailability")
	defer func() { tracing.Close(seg, err) }()

	listing, err := s.store.Ledger().GetListing(ctx, sku)
	if err != nil {
		return nil, err
	}
	if !listing.IsActiveAt(s.clock.Now()) {
		return nil, fmt.Errorf("sku %s: %w", sku, model.ErrNotFoundOrExpired)
	}

	// 確定後は reserved が total を上回り、負の値になることがある
	available := listing.AvailableQuantity()

	return &model.Availability{
		SKU:               sku,
		IsAvailable:       available >= qty,
		AvailableQuantity: available,
	}, nil
}
