package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBatchTimeout はバッチ処理がタイムアウトしたことを表します
var ErrBatchTimeout = errors.New("batch process timed out")

// RunWithTimeout は Step Functions タスクのバッチ処理を指定時間内で実行します
// タイムアウトした場合は ErrBatchTimeout を、親のコンテキストが先にキャンセルされた場合
// (シグナル受信など)はその理由を返します。fn には期限付きのコンテキストを渡すため、
// 実行中のトランザクションはロールバックされます
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fmt.Errorf("invalid batch timeout: %v", timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(runCtx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("batch process cancelled: %w", context.Cause(ctx))
		}
		return fmt.Errorf("%w after %v", ErrBatchTimeout, timeout)
	}
}
