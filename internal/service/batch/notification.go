package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/config"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/database"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
)

// NotificationBatchService は通知バッチ処理を担当します
type NotificationBatchService struct {
	args             []model.Notification
	db               *database.DB
	notificationRepo repository.NotificationRepository
	cfg              *config.Config
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
func NewNotificationBatchService(cfg *config.Config) (*NotificationBatchService, error) {
	db, err := database.NewDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	// database.DBをrepository.DBに変換
	repoDb := repository.NewDBFromSqlx(db.DB)

	return &NotificationBatchService{
		db:               db,
		notificationRepo: repoDb.Notifications(),
		cfg:              cfg,
	}, nil
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.Notification) {
	s.args = args
}

// Run は通知バッチ処理を実行します
func (s *NotificationBatchService) Run(ctx context.Context) (err error) {
	ctx, seg := tracing.BeginSubsegment(ctx, "NotificationBatchService.Run")
	defer func() { tracing.Close(seg, err) }()

	notifications := s.args
	log.Info().Int("count", len(notifications)).Msg("Starting notification batch process")
	tracing.AddMetadata(seg, "notification_count", len(notifications))

	startTime := time.Now()

	// 通知をレコードに変換
	records := make([]model.NotificationRecord, len(notifications))
	buyers := make(map[string]struct{})
	for i, notification := range notifications {
		record, err := notification.ToNotificationRecord()
		if err != nil {
			return fmt.Errorf("failed to convert notification %d: %w", i, err)
		}
		records[i] = *record
		buyers[record.UserID] = struct{}{}
	}

	// 通知レコードを作成
	if err := s.notificationRepo.CreateNotifications(ctx, records); err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	duration := time.Since(startTime)
	tracing.AddMetadata(seg, "duration", duration.String())
	tracing.AddMetadata(seg, "buyer_count", len(buyers))

	log.Info().
		Dur("duration", duration).
		Int("buyers", len(buyers)).
		Msg("Notification batch process completed successfully")
	return nil
}
