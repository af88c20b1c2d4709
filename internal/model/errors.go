package model

import (
	"errors"
	"fmt"
)

// 在庫・予約処理で呼び出し元に返すエラーです
// 呼び出し元は errors.Is で判定します
var (
	ErrValidation            = errors.New("validation error")
	ErrDuplicateSKU          = errors.New("listing with this sku already exists")
	ErrNotFound              = errors.New("reservation not found")
	ErrNotFoundOrExpired     = errors.New("listing not found or expired")
	ErrExpired               = errors.New("reservation expired")
	ErrConflict              = errors.New("reservation state conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// ValidationError は入力値の業務ルール違反を表します
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is により errors.Is(err, ErrValidation) が成立します
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError はフィールド名付きのバリデーションエラーを作成します
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
