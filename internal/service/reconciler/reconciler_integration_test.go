//go:build integration

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/database"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/service/reservation"
)

// setupPostgresStore は使い捨ての PostgreSQL コンテナ上の Store を返します
func setupPostgresStore(t *testing.T) *repository.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("sbcntrapp"),
		tcpostgres.WithUsername("sbcntrapp"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, database.Migrate(conn.DB, "sbcntrapp"))
	return repository.NewDBFromSqlx(conn)
}

// Postgres 上で仮押さえ・確定・キャンセルと期限切れの回収を通しで確認する
func TestIntegration_ReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	clk := clock.NewFake(time.Now().UTC().Truncate(time.Microsecond))
	ls := reservation.NewListingService(store, clk)
	c := reservation.NewCoordinator(store, clk, 5*time.Minute)
	r := New(store, Options{Workers: 4})

	for _, sku := range []string{"A1", "B1"} {
		_, err := ls.CreateListing(ctx, model.CreateListingInput{
			SellerID:      "seller-1",
			SKU:           sku,
			TotalQuantity: 10,
			ExpiryTime:    clk.Now().Add(time.Hour),
		})
		require.NoError(t, err)
	}

	t.Run("仮押さえ・在庫不足・確定・確定後のキャンセル", func(t *testing.T) {
		r1, err := c.Reserve(ctx, "buyer1", "A1", 4)
		require.NoError(t, err)

		_, err = c.Reserve(ctx, "buyer2", "A1", 7)
		assert.ErrorIs(t, err, model.ErrInsufficientInventory)

		_, err = c.Confirm(ctx, r1.ID, "")
		assert.ErrorIs(t, err, model.ErrValidation)

		confirmed, err := c.Confirm(ctx, r1.ID, "buyer1")
		require.NoError(t, err)
		assert.Equal(t, model.ReservationStatusConfirmed, confirmed.Status)

		l, err := store.Ledger().GetListing(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, 6, l.TotalQuantity)
		assert.Equal(t, 4, l.ReservedQuantity)

		_, err = c.Cancel(ctx, r1.ID, "buyer1")
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("期限切れの仮押さえはサイクルで1回だけ回収される", func(t *testing.T) {
		hold, err := c.Reserve(ctx, "buyer3", "B1", 3)
		require.NoError(t, err)

		clk.Advance(6 * time.Minute)
		summary := r.RunCycle(ctx, clk.Now())
		assert.Empty(t, summary.Errors)
		assert.Equal(t, 1, summary.Succeeded())
		require.Len(t, summary.Reservations.Expired, 1)
		assert.Equal(t, hold.ID, summary.Reservations.Expired[0].ReservationID)

		got, err := c.Get(ctx, hold.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationStatusExpired, got.Status)

		l, err := store.Ledger().GetListing(ctx, "B1")
		require.NoError(t, err)
		assert.Equal(t, 0, l.ReservedQuantity)

		second := r.RunCycle(ctx, clk.Now())
		assert.Equal(t, 0, second.Processed())

		l2, err := store.Ledger().GetListing(ctx, "B1")
		require.NoError(t, err)
		assert.Equal(t, l.ReservedQuantity, l2.ReservedQuantity)
		assert.Equal(t, l.Version, l2.Version)
	})
}
