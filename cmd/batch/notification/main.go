package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/config"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/logging"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/utils"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/service/batch"
)

const (
	projectName = "sbcntr-inventory-notification"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として期限切れバッチの出力(JSON)を受け取る
	// ENV=LOCALの場合は空の入力で実行する
	taskInput := `{"notifications":[]}`
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 {
			log.Fatal().Msg("Task input is required")
		}
		taskInput = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskInput)
	if err != nil {
		log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log.Level)

	// X-Ray設定
	if cfg.EnableTracing {
		tracing.Configure()
	}

	// 通知バッチサービスを作成
	service, err := batch.NewNotificationBatchService(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification batch service")
	}
	defer service.Close()

	// コンテキストを作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			log.Warn().Err(err).Msg("Failed to add timeout metadata")
		}
	}

	// シグナルハンドリング
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		// 入力から通知データを生成
		notifications, err := parseNotifications(taskInput)
		if err != nil {
			errChan <- err
			return
		}

		service.SetArgs(notifications)

		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルを待機
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Error().Err(utils.GetStackWithError(err)).Msg("Batch process failed")
			service.Close()
			os.Exit(1)
		}
		log.Info().Msg("Batch process completed successfully")
	}
}

// parseNotifications は期限切れバッチの出力から通知データを生成します
func parseNotifications(input string) ([]model.Notification, error) {
	var payload struct {
		Notifications []struct {
			Type      model.NotificationType `json:"type"`
			CreatedAt time.Time              `json:"created_at"`
			Data      model.HoldEvent        `json:"data"`
		} `json:"notifications"`
	}

	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse task input: %w", err)
	}

	notifications := make([]model.Notification, len(payload.Notifications))
	for i, n := range payload.Notifications {
		if n.Type == model.NotificationTypeHoldExpired {
			notifications[i] = model.NewHoldExpiredNotification(n.Data)
			continue
		}
		notifications[i] = model.Notification{
			Type:      n.Type,
			CreatedAt: n.CreatedAt,
			Data:      n.Data,
		}
	}

	return notifications, nil
}
