package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithTimeout(t *testing.T) {
	errBatch := errors.New("batch failed")

	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(context.Context) error
		wantErr error
	}{
		{
			name:    "時間内に完了",
			timeout: time.Second,
			fn:      func(context.Context) error { return nil },
		},
		{
			name:    "バッチのエラーをそのまま返す",
			timeout: time.Second,
			fn:      func(context.Context) error { return errBatch },
			wantErr: errBatch,
		},
		{
			name:    "タイムアウト",
			timeout: 10 * time.Millisecond,
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				time.Sleep(50 * time.Millisecond)
				return ctx.Err()
			},
			wantErr: ErrBatchTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunWithTimeout(context.Background(), tt.timeout, tt.fn)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunWithTimeout_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunWithTimeout(ctx, time.Minute, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBatchTimeout)
}

func TestRunWithTimeout_InvalidTimeout(t *testing.T) {
	called := false
	err := RunWithTimeout(context.Background(), 0, func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestGetStackWithError(t *testing.T) {
	assert.NoError(t, GetStackWithError(nil))

	errBase := errors.New("base")
	err := GetStackWithError(errBase)
	assert.ErrorIs(t, err, errBase)
	assert.Contains(t, err.Error(), "Stack trace:")

	// 二重にスタックトレースを付与しない
	again := GetStackWithError(err)
	assert.Equal(t, 1, strings.Count(again.Error(), "Stack trace:"))

	wrapped := GetStackWithError(errors.Join(errors.New("outer"), err))
	assert.Equal(t, 1, strings.Count(wrapped.Error(), "Stack trace:"))
}
