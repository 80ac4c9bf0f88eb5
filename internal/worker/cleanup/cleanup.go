// Package cleanup はセッションの定期クリーンアップジョブを提供する。
// 有効期限を過ぎた永続化済みセッションの削除と、
// 一定時間アクセスのないクライアントのメモリからの解放を行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/repository"
)

// IdleEvictor はアクセスのないクライアントを解放するインターフェース。
// view.Registryが実装する。
type IdleEvictor interface {
	EvictIdle(now time.Time) int
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	purger  repository.ExpiredSessionPurger
	evictor IdleEvictor
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// purgerとevictorはどちらもnilにできる。nilの処理はスキップする。
func NewCleanupJob(purger repository.ExpiredSessionPurger, evictor IdleEvictor, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &CleanupJob{
		purger:  purger,
		evictor: evictor,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Run はクリーンアップを1回実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	// 1. アクセスのないクライアントを解放
	evicted := 0
	if j.evictor != nil {
		evicted = j.evictor.EvictIdle(start)
	}

	// 2. 期限切れの永続化セッションを削除
	var deleted int64
	if j.purger != nil {
		n, err := j.purger.DeleteExpired(ctx, start)
		if err != nil {
			j.logger.ErrorContext(ctx, "セッションクリーンアップジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
		}
		deleted = n
		j.metrics.RecordSessionsPurged(deleted)
	}

	j.logger.InfoContext(ctx, "セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("evicted_clients", evicted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降interval間隔で繰り返す。
// ctxが終了するまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunの失敗をログに残して継続する。
func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.WarnContext(ctx, "次回のクリーンアップで再試行します", slog.String("error", err.Error()))
	}
}
