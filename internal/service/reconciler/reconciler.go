package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers     = 8
	DefaultItemTimeout = 10 * time.Second
)

type outcome string

const (
	outcomeSucceeded outcome = "succeeded"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

// Options は Reconciler の設定です
type Options struct {
	// Workers は同時に処理する予約の上限です
	Workers int
	// ItemTimeout は予約1件あたりのトランザクションのタイムアウトです
	ItemTimeout time.Duration
	// Metrics が nil の場合はメトリクスを記録しません
	Metrics *Metrics
}

// Reconciler は期限切れの予約と出品を回収します
// 予約は1件ずつ独立したトランザクションで処理し、失敗は他の予約に影響しません
type Reconciler struct {
	store       repository.Store
	workers     int
	itemTimeout time.Duration
	metrics     *Metrics
}

// New は新しいReconcilerを作成します
func New(store repository.Store, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DefaultItemTimeout
	}
	return &Reconciler{
		store:       store,
		workers:     opts.Workers,
		itemTimeout: opts.ItemTimeout,
		metrics:     opts.Metrics,
	}
}

type itemResult struct {
	reservationID string
	outcome       outcome
	event         model.HoldEvent
	err           error
}

// RunCycle は予約と出品のスイープを1回実行します
// エラーは返さず、部分的な失敗は CycleSummary.Errors に記録します
func (r *Reconciler) RunCycle(ctx context.Context, now time.Time) model.CycleSummary {
	ctx, seg := tracing.BeginSubsegment(ctx, "Reconciler.RunCycle")
	startTime := time.Now()

	summary := model.CycleSummary{StartedAt: now}

	result, err := r.SweepReservations(ctx, now)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.Reservations = result

	expired, err := r.SweepListings(ctx, now)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.ExpiredListings = expired

	summary.Duration = time.Since(startTime)
	r.metrics.observeCycle(summary)

	tracing.AddMetadata(seg, "processed", summary.Processed())
	tracing.AddMetadata(seg, "failed", summary.Failed())
	tracing.Close(seg, nil)

	event := log.Info()
	if summary.HasErrors() {
		event = log.Warn().Strs("errors", summary.Errors)
	}
	event.
		Int("processed", summary.Processed()).
		Int("succeeded", summary.Succeeded()).
		Int("skipped", summary.Skipped()).
		Int("failed", summary.Failed()).
		Int64("expired_listings", summary.ExpiredListings).
		Dur("duration", summary.Duration).
		Msg("Cleanup cycle completed")

	return summary
}

// SweepReservations は期限を過ぎた PENDING 予約を EXPIRED にし、引当を戻します
// Query に失敗した場合のみエラーを返します
func (r *Reconciler) SweepReservations(ctx context.Context, now time.Time) (_ model.SweepResult, err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "Reconciler.SweepReservations")
	defer func() { tracing.Close(seg, err) }()

	pending, err := r.store.Reservations().Query(ctx, model.ReservationStatusPending, now)
	if err != nil {
		return model.SweepResult{}, fmt.Errorf("failed to query expired reservations: %w", err)
	}

	log.Info().Int("count", len(pending)).Msg("Found expired pending reservations")

	results := make(chan itemResult, len(pending))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, reservation := range pending {
		reservation := reservation
		g.Go(func() error {
			results <- r.expireOne(ctx, reservation, now)
			return nil
		})
	}
	// 各タスクはエラーを返さない
	_ = g.Wait()
	close(results)

	result := model.SweepResult{}
	for res := range results {
		result.Processed++
		switch res.outcome {
		case outcomeSucceeded:
			result.Succeeded++
			result.Expired = append(result.Expired, res.event)
		case outcomeSkipped:
			result.Skipped++
			log.Debug().Str("reservation_id", res.reservationID).Err(res.err).Msg("Reservation already settled. Skipping...")
		case outcomeFailed:
			result.Failed++
			log.Error().Str("reservation_id", res.reservationID).Err(res.err).Msg("Failed to expire reservation")
		}
		r.metrics.observeItem(res.outcome)
	}
	return result, nil
}

// expireOne は予約1件を独立したトランザクションで期限切れにします
func (r *Reconciler) expireOne(ctx context.Context, reservation model.Reservation, now time.Time) itemResult {
	ctx, cancel := context.WithTimeout(ctx, r.itemTimeout)
	defer cancel()

	res := itemResult{reservationID: reservation.ID}

	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		expired, err := tx.Reservations().Transition(ctx, reservation.ID,
			model.ReservationStatusPending, model.ReservationStatusExpired,
			repository.TransitionOptions{ExpiredBefore: now, At: now})
		if err != nil {
			return err
		}
		if err := tx.Ledger().Release(ctx, expired.SKU, expired.Quantity); err != nil {
			return err
		}
		res.event = model.NewHoldEvent(*expired, now)
		return nil
	})

	switch {
	case err == nil:
		res.outcome = outcomeSucceeded
	case errors.Is(err, model.ErrConflict):
		res.outcome = outcomeSkipped
		res.err = err
	default:
		res.outcome = outcomeFailed
		res.err = err
	}
	return res
}

// SweepListings は期限を過ぎた出品に期限切れフラグを立てます
func (r *Reconciler) SweepListings(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.store.Ledger().ExpireListings(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire listings: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Listings marked as expired")
	}
	return n, nil
}
