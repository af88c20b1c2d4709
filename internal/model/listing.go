package model

import (
	"strings"
	"time"
)

// Listing は出品者が登録したSKU単位の在庫です
// sku ごとに1件で、物理削除はしません
type Listing struct {
	ID               string    `db:"id" json:"id"`
	SellerID         string    `db:"seller_id" json:"seller_id"`
	SKU              string    `db:"sku" json:"sku"`
	TotalQuantity    int       `db:"total_quantity" json:"total_quantity"`
	ReservedQuantity int       `db:"reserved_quantity" json:"reserved_quantity"`
	ExpiryTime       time.Time `db:"expiry_time" json:"expiry_time"`
	IsExpired        bool      `db:"is_expired" json:"is_expired"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableQuantity は引当可能な数量を返します
func (l Listing) AvailableQuantity() int {
	return l.TotalQuantity - l.ReservedQuantity
}

// IsActiveAt は指定時刻に出品が有効かどうかを返します
func (l Listing) IsActiveAt(now time.Time) bool {
	return l.ExpiryTime.After(now)
}

// Availability は在庫確認の結果です
// 参考情報であり、引当の判定には使いません
type Availability struct {
	SKU               string `json:"sku"`
	IsAvailable       bool   `json:"is_available"`
	AvailableQuantity int    `json:"available_quantity"`
}

// CreateListingInput は出品登録の入力です
type CreateListingInput struct {
	SellerID      string    `json:"seller_id"`
	SKU           string    `json:"sku"`
	TotalQuantity int       `json:"total_quantity"`
	ExpiryTime    time.Time `json:"expiry_time"`
}

// Validate は出品登録の業務ルールを検証します
func (in CreateListingInput) Validate(now time.Time) error {
	if strings.TrimSpace(in.SellerID) == "" {
		return NewValidationError("seller_id", "is required")
	}
	if strings.TrimSpace(in.SKU) == "" {
		return NewValidationError("sku", "is required")
	}
	if in.TotalQuantity <= 0 {
		return NewValidationError("total_quantity", "must be greater than zero")
	}
	if !in.ExpiryTime.After(now) {
		return NewValidationError("expiry_time", "must be in the future")
	}
	return nil
}
