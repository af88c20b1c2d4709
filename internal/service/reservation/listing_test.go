package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

func TestListingService_CreateListing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		in        model.CreateListingInput
		wantErr   error
		wantField string
	}{
		{
			name: "正常に出品できる",
			in:   model.CreateListingInput{SellerID: "seller-1", SKU: "NEW", TotalQuantity: 3, ExpiryTime: start.Add(time.Hour)},
		},
		{
			name:      "SKUが空",
			in:        model.CreateListingInput{SellerID: "seller-1", SKU: "", TotalQuantity: 3, ExpiryTime: start.Add(time.Hour)},
			wantErr:   model.ErrValidation,
			wantField: "sku",
		},
		{
			name:      "出品者IDが空",
			in:        model.CreateListingInput{SellerID: "", SKU: "NEW", TotalQuantity: 3, ExpiryTime: start.Add(time.Hour)},
			wantErr:   model.ErrValidation,
			wantField: "seller_id",
		},
		{
			name:      "数量が0",
			in:        model.CreateListingInput{SellerID: "seller-1", SKU: "NEW", TotalQuantity: 0, ExpiryTime: start.Add(time.Hour)},
			wantErr:   model.ErrValidation,
			wantField: "total_quantity",
		},
		{
			name:      "期限が過去",
			in:        model.CreateListingInput{SellerID: "seller-1", SKU: "NEW", TotalQuantity: 3, ExpiryTime: start},
			wantErr:   model.ErrValidation,
			wantField: "expiry_time",
		},
		{
			name:    "SKUが重複",
			in:      model.CreateListingInput{SellerID: "seller-2", SKU: "DUP", TotalQuantity: 3, ExpiryTime: start.Add(time.Hour)},
			wantErr: model.ErrDuplicateSKU,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _, _, ls := newTestServices(t)
			mustCreateListing(t, ls, "DUP", 1)

			got, err := ls.CreateListing(ctx, tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				if tt.wantField != "" {
					var verr *model.ValidationError
					require.ErrorAs(t, err, &verr)
					assert.Equal(t, tt.wantField, verr.Field)
				}
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got.ID)
			assert.Equal(t, 0, got.ReservedQuantity)
			assert.False(t, got.IsExpired)

			stored, ok := store.Listing(tt.in.SKU)
			require.True(t, ok)
			assert.Equal(t, *got, stored)
		})
	}
}

func TestListingService_CheckAvailability(t *testing.T) {
	ctx := context.Background()
	_, clk, c, ls := newTestServices(t)
	mustCreateListing(t, ls, "A1", 10)

	r, err := c.Reserve(ctx, "buyer1", "A1", 4)
	require.NoError(t, err)

	t.Run("残数以内なら引当可能", func(t *testing.T) {
		got, err := ls.CheckAvailability(ctx, "A1", 6)
		require.NoError(t, err)
		assert.True(t, got.IsAvailable)
		assert.Equal(t, 6, got.AvailableQuantity)
	})

	t.Run("残数を超えると引当不可", func(t *testing.T) {
		got, err := ls.CheckAvailability(ctx, "A1", 7)
		require.NoError(t, err)
		assert.False(t, got.IsAvailable)
	})

	t.Run("確定後に引当済みが総数を上回ると負の値を返す", func(t *testing.T) {
		_, err := c.Confirm(ctx, r.ID, "buyer1")
		require.NoError(t, err)
		r2, err := c.Reserve(ctx, "buyer2", "A1", 2)
		require.NoError(t, err)
		_, err = c.Confirm(ctx, r2.ID, "buyer2")
		require.NoError(t, err)

		// total=4, reserved=6
		got, err := ls.CheckAvailability(ctx, "A1", 1)
		require.NoError(t, err)
		assert.False(t, got.IsAvailable)
		assert.Equal(t, -2, got.AvailableQuantity)
	})

	t.Run("存在しないSKU", func(t *testing.T) {
		_, err := ls.CheckAvailability(ctx, "ZZ", 1)
		assert.ErrorIs(t, err, model.ErrNotFoundOrExpired)
	})

	t.Run("期限切れの出品", func(t *testing.T) {
		clk.Advance(24 * time.Hour)
		_, err := ls.CheckAvailability(ctx, "A1", 1)
		assert.ErrorIs(t, err, model.ErrNotFoundOrExpired)
	})
}
