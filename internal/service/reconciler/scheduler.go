package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

const DefaultInterval = 60 * time.Second

var (
	ErrSchedulerRunning = errors.New("scheduler is already running")
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// CycleRunner はクリーンアップサイクルを1回実行します
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) model.CycleSummary
}

// Scheduler は一定間隔でクリーンアップサイクルを実行するタスクです
// Start で1回目を即時に実行し、以降は interval ごとに実行します
type Scheduler struct {
	runner   CycleRunner
	clock    clock.Clock
	interval time.Duration
	onCycle  func(model.CycleSummary)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler は新しいSchedulerを作成します
// onCycle が指定された場合は各サイクルの結果を渡します
func NewScheduler(runner CycleRunner, clk clock.Clock, interval time.Duration, onCycle func(model.CycleSummary)) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		clock:    clk,
		interval: interval,
		onCycle:  onCycle,
	}
}

// Start はスケジューラを開始します
// ctx がキャンセルされた場合も停止しますが、Stop で終了を待つ必要があります
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.interval)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, ticker, s.done)

	log.Info().Dur("interval", s.interval).Msg("Reconciler scheduler started")
	return nil
}

// Stop はスケジューラを停止し、実行中のサイクルの終了を待ちます
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrSchedulerStopped
	}
	cancel()
	<-done

	log.Info().Msg("Reconciler scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	summary := s.runner.RunCycle(ctx, s.clock.Now())
	if s.onCycle != nil {
		s.onCycle(summary)
	}
}
