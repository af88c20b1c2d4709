package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

func waitCycle(t *testing.T, cycles <-chan model.CycleSummary) model.CycleSummary {
	t.Helper()
	select {
	case s := <-cycles:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not run")
		return model.CycleSummary{}
	}
}

func TestScheduler_RunsImmediatelyAndOnEveryTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A1": 10})
	r := New(f.store, Options{})

	cycles := make(chan model.CycleSummary, 10)
	s := NewScheduler(r, f.clock, time.Minute, func(summary model.CycleSummary) {
		cycles <- summary
	})

	hold, err := f.coordinator.Reserve(ctx, "buyer3", "A1", 3)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))

	first := waitCycle(t, cycles)
	assert.Equal(t, start, first.StartedAt)
	assert.Equal(t, 0, first.Processed())

	// 壁時計を待たずに6分進める
	for i := 0; i < 6; i++ {
		f.clock.Advance(time.Minute)
		waitCycle(t, cycles)
	}

	got, ok := f.store.Reservation(hold.ID)
	require.True(t, ok)
	assert.Equal(t, model.ReservationStatusExpired, got.Status)

	l, _ := f.store.Listing("A1")
	assert.Equal(t, 0, l.ReservedQuantity)

	require.NoError(t, s.Stop())

	// 停止後は tick が来てもサイクルは実行されない
	f.clock.Advance(time.Minute)
	select {
	case <-cycles:
		t.Fatal("cycle ran after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_StartStopErrors(t *testing.T) {
	f := newFixture(t, nil)
	s := NewScheduler(New(f.store, Options{}), f.clock, time.Minute, nil)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerStopped)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerRunning)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerStopped)

	// 停止後は再開できる
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_StopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t, nil)
	cycles := make(chan model.CycleSummary, 10)
	s := NewScheduler(New(f.store, Options{}), f.clock, time.Minute, func(summary model.CycleSummary) {
		cycles <- summary
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	waitCycle(t, cycles)

	cancel()
	require.NoError(t, s.Stop())
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(nil, nil, 0, nil)
	assert.Equal(t, DefaultInterval, s.interval)
	assert.IsType(t, clock.Real{}, s.clock)
}
