package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
)

// DB は Postgres を使った Store の実装です
type DB struct {
	*sqlx.DB
}

// NewDBFromSqlx は database パッケージで作成した接続をリポジトリ用にラップします
func NewDBFromSqlx(db *sqlx.DB) *DB {
	return &DB{DB: db}
}

// Ledger は自動コミットの在庫リポジトリを返します
func (db *DB) Ledger() InventoryLedger {
	return NewListingRepository(db)
}

// Reservations は自動コミットの予約リポジトリを返します
func (db *DB) Reservations() ReservationStore {
	return NewReservationRepository(db)
}

// Notifications は通知リポジトリを返します
func (db *DB) Notifications() NotificationRepository {
	return NewNotificationRepository(db)
}

// InTx は fn をひとつのトランザクションで実行します
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "DB.InTx")
	defer func() { tracing.Close(seg, err) }()

	sqlTx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// エラーが発生した場合のみロールバックを実行
	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
	}()

	if err = fn(ctx, &sqlTxScope{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// QueryxContext wraps sqlx.DB.QueryxContext with X-Ray tracing
func (db *DB) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "DB.Queryx")
	tracing.AddMetadata(seg, "query", query)

	rows, err := db.DB.QueryxContext(ctx, query, args...)
	tracing.Close(seg, err)
	return rows, err
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "DB.Exec")
	tracing.AddMetadata(seg, "query", query)

	result, err := db.DB.ExecContext(ctx, query, args...)
	tracing.Close(seg, err)
	return result, err
}

type sqlTxScope struct {
	tx *sqlx.Tx
}

func (s *sqlTxScope) Ledger() InventoryLedger {
	return NewListingRepository(s.tx)
}

func (s *sqlTxScope) Reservations() ReservationStore {
	return NewReservationRepository(s.tx)
}
