package model

import "time"

// SweepResult は期限切れ予約スイープの集計です
type SweepResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Expired   []HoldEvent `json:"-"`
}

// CycleSummary は1回のクリーンアップサイクルの結果です
// 部分的な失敗は Errors に格納され、呼び出し元にエラーとしては返しません
type CycleSummary struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Reservations    SweepResult   `json:"reservations"`
	ExpiredListings int64         `json:"expired_listings"`
	Errors          []string      `json:"errors,omitempty"`
}

// Processed などは periodic driver から参照しやすいように委譲しています
func (s CycleSummary) Processed() int { return s.Reservations.Processed }
func (s CycleSummary) Succeeded() int { return s.Reservations.Succeeded }
func (s CycleSummary) Skipped() int   { return s.Reservations.Skipped }
func (s CycleSummary) Failed() int    { return s.Reservations.Failed }

// HasErrors はサイクル中に何らかの失敗があったかを返します
func (s CycleSummary) HasErrors() bool {
	return len(s.Errors) > 0 || s.Reservations.Failed > 0
}
