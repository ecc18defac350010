package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// BatchRunner は照合バッチの実行インターフェース。
type BatchRunner interface {
	RunBatch(ctx context.Context) (*Result, error)
}

// Scheduler は照合バッチを固定間隔で起動する。
// 外部cronを使わないデプロイ向けのworkerサブコマンドから利用される。
type Scheduler struct {
	runner BatchRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner BatchRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("照合スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("照合スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.RunBatch(ctx); err != nil {
		s.logger.Error("照合バッチの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
