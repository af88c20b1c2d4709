package tracing

import (
	"context"
	"os"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/rs/zerolog/log"
)

// BeginSubsegment は親セグメントがある場合のみサブセグメントを開始します
// 親がない場合(単体テストやローカル実行)は nil を返し、以降の呼び出しは何もしません
func BeginSubsegment(ctx context.Context, name string) (context.Context, *xray.Segment) {
	if xray.GetSegment(ctx) == nil {
		return ctx, nil
	}
	return xray.BeginSubsegment(ctx, name)
}

// Close はセグメントを閉じます
func Close(seg *xray.Segment, err error) {
	if seg == nil {
		return
	}
	seg.Close(err)
}

// AddMetadata はセグメントにメタデータを追加します
func AddMetadata(seg *xray.Segment, key string, value interface{}) {
	if seg == nil {
		return
	}
	if err := seg.AddMetadata(key, value); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to add metadata")
	}
}

// Configure はX-Rayデーモンへの送信を設定します
func Configure() {
	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
		ServiceVersion: "1.0.0",
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to configure X-Ray")
		// X-Ray設定失敗時はデフォルトの設定を使用
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			log.Fatal().Err(configErr).Msg("Failed to configure default X-Ray settings")
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
}
