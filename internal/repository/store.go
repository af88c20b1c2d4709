package repository

import (
	"context"
	"time"

	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

// InventoryLedger は出品ごとの在庫数量を管理します
// 数量の変更はすべて1回の条件付き更新で行い、読み取ってから書く処理はしません
type InventoryLedger interface {
	CreateListing(ctx context.Context, listing *model.Listing) error
	// GetListing は sku の出品を返します。存在しない場合は model.ErrNotFoundOrExpired
	GetListing(ctx context.Context, sku string) (*model.Listing, error)
	// Reserve は有効期限内かつ引当可能数量が qty 以上の場合のみ reserved を増やします
	Reserve(ctx context.Context, sku string, qty int, now time.Time) (*model.Listing, error)
	// Release は reserved を qty だけ戻します。未知の sku は何もしません
	Release(ctx context.Context, sku string, qty int) error
	// Commit は total を qty だけ減らします。reserved は変更しません
	Commit(ctx context.Context, sku string, qty int) error
	// ExpireListings は期限を過ぎた出品に期限切れフラグを立て、件数を返します
	ExpireListings(ctx context.Context, now time.Time) (int64, error)
}

// ReservationStore は予約(ホールド)の永続化を担当します
type ReservationStore interface {
	Insert(ctx context.Context, reservation *model.Reservation) error
	// Get は予約を返します。存在しない場合は model.ErrNotFound
	Get(ctx context.Context, id string) (*model.Reservation, error)
	// Query は status が一致し expires_at が expiresBefore より前の予約を期限順に返します
	Query(ctx context.Context, status model.ReservationStatus, expiresBefore time.Time) ([]model.Reservation, error)
	// Transition は現在の状態が from の場合のみ to に更新します(CAS)
	Transition(ctx context.Context, id string, from, to model.ReservationStatus, opts TransitionOptions) (*model.Reservation, error)
}

// TransitionOptions は状態遷移の追加条件です
// ゼロ値のフィールドは条件に含めません
type TransitionOptions struct {
	// BuyerID が一致する場合のみ遷移します
	BuyerID string
	// NotExpiredAt より後に期限が来る場合のみ遷移します(確定用)
	NotExpiredAt time.Time
	// ExpiredBefore より前に期限が切れている場合のみ遷移します(期限切れスイープ用)
	ExpiredBefore time.Time
	// ConfirmedAt が指定されると confirmed_at に設定します
	ConfirmedAt time.Time
	// At は updated_at に設定する時刻です
	At time.Time
}

// Tx はひとつのトランザクション内で使うリポジトリの組です
type Tx interface {
	Ledger() InventoryLedger
	Reservations() ReservationStore
}

// Store はトランザクションの境界を提供します
// Ledger / Reservations を直接呼んだ場合は1文ごとに自動コミットされます
type Store interface {
	Tx
	// InTx は fn をひとつのトランザクションで実行します
	// fn がエラーを返した場合はすべての変更をロールバックします
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ClassifyTransition は条件付き更新が0件だった場合に、その理由を判定します
// current が nil の場合は予約が存在しません
func ClassifyTransition(current *model.Reservation, from model.ReservationStatus, opts TransitionOptions) error {
	switch {
	case current == nil:
		return model.ErrNotFound
	case current.Status != from:
		return model.ErrConflict
	case opts.BuyerID != "" && current.BuyerID != opts.BuyerID:
		return model.ErrConflict
	case !opts.NotExpiredAt.IsZero() && current.IsExpiredAt(opts.NotExpiredAt):
		return model.ErrExpired
	}
	return model.ErrConflict
}

// ClassifyReserve は在庫の条件付き更新が0件だった場合の理由を判定します
func ClassifyReserve(current *model.Listing, now time.Time) error {
	if current == nil || !current.IsActiveAt(now) {
		return model.ErrNotFoundOrExpired
	}
	return model.ErrInsufficientInventory
}

// Matches は予約が遷移条件を満たすかを返します
func (o TransitionOptions) Matches(r model.Reservation, from model.ReservationStatus) bool {
	if r.Status != from {
		return false
	}
	if o.BuyerID != "" && r.BuyerID != o.BuyerID {
		return false
	}
	if !o.NotExpiredAt.IsZero() && r.IsExpiredAt(o.NotExpiredAt) {
		return false
	}
	if !o.ExpiredBefore.IsZero() && !r.ExpiresAt.Before(o.ExpiredBefore) {
		return false
	}
	return true
}
