package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/holmirdas/internal/model"
)

// Pipeline は1回分の転送処理の実行インターフェース。
type Pipeline interface {
	RunOnce(ctx context.Context) (RunSummary, error)
}

// Scheduler は一定間隔でパイプラインを実行する。
// 実行は常に直列で、前回の実行が終わるまで次の実行は始まらない。
type Scheduler struct {
	pipeline Pipeline
	logger   *slog.Logger
	status   *Status
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(pipeline Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		logger:   logger,
		status:   &Status{},
	}
}

// Status は実行状況を返す。
func (s *Scheduler) Status() *Status {
	return s.status
}

// Start は起動直後に1回実行し、その後intervalごとにパイプラインを実行する。
// コンテキストがキャンセルされるとnilを返す。
// 転送ログの破損を検出した場合は、既存ファイルを保護するため直ちにエラーを返す。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("実行間隔は正の値である必要があります: %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("転送スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	if err := s.runOnce(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("転送スケジューラを停止しました")
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	s.status.Begin()
	summary, err := s.pipeline.RunOnce(ctx)
	s.status.Record(summary, err, time.Now())
	if err != nil {
		if errors.Is(err, model.ErrCorruptedLog) {
			s.logger.Error("転送ログが破損しているためスケジューラを停止します",
				slog.String("error", err.Error()),
			)
			return err
		}
		s.logger.Error("転送処理の実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return nil
}
