package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/config"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/logging"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/utils"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/service/batch"
)

const (
	projectName = "sbcntr-inventory-expiry"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 {
			log.Fatal().Msg("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log.Level)

	// X-Ray設定
	if cfg.EnableTracing {
		tracing.Configure()
	}

	// Step Functionsクライアントの初期化
	var sfnClient *sfn.Client
	if os.Getenv("ENV") != "LOCAL" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to load AWS config")
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
	}

	// サービスの初期化
	service, err := batch.NewExpiryBatchService(cfg, sfnClient)
	if err != nil {
		log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to create service")
	}
	defer service.Close()

	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("Batch process failed")

			// ローカル環境以外の場合のみStep Functionsのエラー通知を行う
			if os.Getenv("ENV") != "LOCAL" && sfnClient != nil {
				input := &sfn.SendTaskFailureInput{
					TaskToken: aws.String(taskToken),
					Error:     aws.String("Batch process failed"),
					Cause:     aws.String(err.Error()),
				}

				// タイムアウト済みの ctx では送信できないため新しいコンテキストを使う
				failCtx, failCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := sfnClient.SendTaskFailure(failCtx, input); err != nil {
					log.Error().Err(err).Msg("Failed to send task failure")
				}
				failCancel()
			}

			service.Close()
			os.Exit(1)
		}
		log.Info().Msg("Batch process completed successfully")
	}
}
