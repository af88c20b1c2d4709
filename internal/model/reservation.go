package model

import "time"

// ReservationStatus は予約(ホールド)の状態です
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal は終端状態かどうかを返します
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo は状態遷移が定義されているかを返します
// PENDING からの確定・キャンセル・期限切れのみ許可します
func (s ReservationStatus) CanTransitionTo(to ReservationStatus) bool {
	if s != ReservationStatusPending {
		return false
	}
	return to.IsTerminal()
}

func (s ReservationStatus) String() string {
	return string(s)
}

// Reservation は出品に対する期限付きの仮押さえです
type Reservation struct {
	ID          string            `db:"id" json:"id"`
	SKU         string            `db:"sku" json:"sku"`
	ProductID   string            `db:"product_id" json:"product_id"`
	Quantity    int               `db:"quantity" json:"quantity"`
	BuyerID     string            `db:"buyer_id" json:"buyer_id"`
	Status      ReservationStatus `db:"status" json:"status"`
	ExpiresAt   time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	ConfirmedAt *time.Time        `db:"confirmed_at" json:"confirmed_at,omitempty"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// IsExpiredAt は指定時刻にホールド期限を過ぎているかを返します
func (r Reservation) IsExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// HoldEvent は予約の状態変更時に発行されるイベントの構造体
// 期限切れバッチの結果として通知バッチに渡されます
type HoldEvent struct {
	ReservationID string            `json:"reservation_id"`
	BuyerID       string            `json:"buyer_id"`
	SKU           string            `json:"sku"`
	Quantity      int               `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewHoldEvent は予約からイベントを作成します
func NewHoldEvent(r Reservation, occurredAt time.Time) HoldEvent {
	return HoldEvent{
		ReservationID: r.ID,
		BuyerID:       r.BuyerID,
		SKU:           r.SKU,
		Quantity:      r.Quantity,
		Status:        r.Status,
		OccurredAt:    occurredAt,
	}
}
