package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/config"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/database"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/utils"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/service/reconciler"
)

// TaskNotifier は Step Functions のタスク完了通知を送ります
// *sfn.Client が満たします
type TaskNotifier interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
}

// ExpiryOutput は期限切れバッチが Step Functions に返す出力です
// notifications は通知バッチの入力になります
type ExpiryOutput struct {
	Notifications []model.Notification `json:"notifications"`
	Summary       model.CycleSummary   `json:"summary"`
}

// ExpiryBatchService は期限切れ予約の回収バッチ処理を担当します
type ExpiryBatchService struct {
	db         *database.DB
	reconciler reconciler.CycleRunner
	clock      clock.Clock
	sfnClient  TaskNotifier
	cfg        *config.Config
}

// NewExpiryBatchService は新しいExpiryBatchServiceを作成します
func NewExpiryBatchService(cfg *config.Config, sfnClient *sfn.Client) (*ExpiryBatchService, error) {
	db, err := database.NewDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	// database.DBをrepository.DBに変換
	store := repository.NewDBFromSqlx(db.DB)

	var notifier TaskNotifier
	if sfnClient != nil {
		notifier = sfnClient
	}

	return &ExpiryBatchService{
		db: db,
		reconciler: reconciler.New(store, reconciler.Options{
			Workers:     cfg.Reconciler.Workers,
			ItemTimeout: cfg.Reconciler.ItemTimeout,
		}),
		clock:     clock.Real{},
		sfnClient: notifier,
		cfg:       cfg,
	}, nil
}

// Close は終了処理を行います
func (s *ExpiryBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Run はクリーンアップサイクルを1回実行し、結果を Step Functions に返します
// 予約単位の失敗は次回のバッチで再処理されるため、サイクル全体の失敗のみエラーにします
// 期限切れにした予約がある場合は、サイクルの一部が失敗していても通知を返します
// EXPIRED はコミット済みで、次回のサイクルでは再検出できないためです
func (s *ExpiryBatchService) Run(ctx context.Context) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "ExpiryBatchService.Run")
	defer func() { tracing.Close(seg, err) }()

	startTime := time.Now()

	summary := s.reconciler.RunCycle(ctx, s.clock.Now())
	if len(summary.Errors) > 0 {
		if len(summary.Reservations.Expired) == 0 {
			return utils.GetStackWithError(fmt.Errorf("cleanup cycle failed: %v", summary.Errors))
		}
		log.Warn().
			Strs("errors", summary.Errors).
			Int("notifications", len(summary.Reservations.Expired)).
			Msg("Cleanup cycle partially failed. Sending expired holds anyway")
	}

	// イベントを発行
	if err := s.sendTaskSuccess(ctx, summary); err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	tracing.AddMetadata(seg, "duration", duration.String())
	tracing.AddMetadata(seg, "expired_reservations", summary.Succeeded())

	log.Info().Dur("duration", duration).Msg("Expiry batch process completed successfully")
	return nil
}

// buildOutput は期限切れイベントを通知に変換します
func buildOutput(summary model.CycleSummary) ExpiryOutput {
	notifications := make([]model.Notification, len(summary.Reservations.Expired))
	for i, event := range summary.Reservations.Expired {
		notifications[i] = model.NewHoldExpiredNotification(event)
	}
	return ExpiryOutput{
		Notifications: notifications,
		Summary:       summary,
	}
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、イベントを返却します
func (s *ExpiryBatchService) sendTaskSuccess(ctx context.Context, summary model.CycleSummary) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if os.Getenv("ENV") == "LOCAL" || s.sfnClient == nil {
		log.Info().Msg("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}

	output, err := json.Marshal(buildOutput(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	// タスクトークンを設定から取得
	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(output)),
	}
	if _, err := s.sfnClient.SendTaskSuccess(ctx, input); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Info().
		Int("notifications", len(summary.Reservations.Expired)).
		Msg("Successfully sent task success with notifications")
	return nil
}
