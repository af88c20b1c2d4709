package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeHoldExpired は仮押さえの期限切れ通知を表します
	NotificationTypeHoldExpired NotificationType = "hold_expired"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// Notification はイベントIFを受け取るための定義です
// Step Functions の出力としてバッチ間で受け渡されます
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      HoldEvent        `json:"data"`
}

// NotificationRecord は通知のドメインモデルです
// データベースに永続化される通知レコードと今回は一致しています
type NotificationRecord struct {
	ID        int              `db:"id"`
	UserID    string           `db:"user_id"`
	Title     string           `db:"title"`
	Message   string           `db:"message"`
	IsRead    bool             `db:"is_read"`
	Type      NotificationType `db:"type"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

// ToNotificationRecord は通知を通知レコードに変換します
func (n Notification) ToNotificationRecord() (*NotificationRecord, error) {
	if n.Data.BuyerID == "" {
		return nil, fmt.Errorf("notification data has no buyer_id")
	}

	if n.Type == NotificationTypeHoldExpired {
		if n.Data.SKU == "" {
			return nil, fmt.Errorf("notification data has no sku")
		}

		message := fmt.Sprintf(`仮押さえの有効期限が切れました。
商品: %s
数量: %d
期限切れ日時: %s`, n.Data.SKU, n.Data.Quantity, n.Data.OccurredAt.Format("2006-01-02 15:04"))

		return &NotificationRecord{
			UserID:    n.Data.BuyerID,
			Title:     "仮押さえの有効期限が切れました",
			Message:   message,
			IsRead:    false,
			Type:      NotificationTypeHoldExpired,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.CreatedAt,
		}, nil
	}

	return &NotificationRecord{
		UserID:    n.Data.BuyerID,
		Title:     "新しい通知が届きました。",
		Message:   "新しい通知です。",
		IsRead:    false,
		Type:      NotificationTypeCommon,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.CreatedAt,
	}, nil
}

// NewHoldExpiredNotification は期限切れイベントから通知を作成します
func NewHoldExpiredNotification(event HoldEvent) Notification {
	return Notification{
		Type:      NotificationTypeHoldExpired,
		CreatedAt: event.OccurredAt,
		Data:      event,
	}
}
