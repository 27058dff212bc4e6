// Package relay は転送ログの照合と転送処理を提供する。
// フィードから発見したURLと永続化済みのログを照合し、未転送の投稿を
// 1件ずつ転送先へ送り、ログを上限内に収めて保存する。
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/holmirdas/internal/model"
)

// LogStore は転送ログのスナップショットを読み書きするインターフェース。
type LogStore interface {
	Load(ctx context.Context) ([]model.LogEntry, error)
	Save(ctx context.Context, entries []model.LogEntry) error
}

// FeedSource はフィード1件から投稿URLを古い順に取得するインターフェース。
type FeedSource interface {
	PostURLs(ctx context.Context, feedURL string) ([]string, error)
}

// MetricsRecorder は実行中のメトリクスを記録するインターフェース。
type MetricsRecorder interface {
	RecordForwardSuccess()
	RecordForwardFailure()
	RecordGiveUp()
	RecordRateLimited()
	RecordDiscovered(count int)
	RecordFeedFailure()
	RecordLogEntries(counts map[model.EntryState]int)
	RecordRunDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordForwardSuccess() {}
func (nopMetrics) RecordForwardFailure() {}
func (nopMetrics) RecordGiveUp() {}
func (nopMetrics) RecordRateLimited() {}
func (nopMetrics) RecordDiscovered(int) {}
func (nopMetrics) RecordFeedFailure() {}
func (nopMetrics) RecordLogEntries(map[model.EntryState]int) {}
func (nopMetrics) RecordRunDuration(time.Duration) {}

// RunnerConfig はRunnerの設定パラメータ。
type RunnerConfig struct {
	// Feeds は取得対象のフィードURL。
	Feeds []string
	// MaxLogEntries は保持する転送ログの最大件数（デフォルト: 1000）。
	MaxLogEntries int
	// TrimPolicy は上限超過時の削除方針。
	TrimPolicy TrimPolicy
}

// RunSummary は1回の実行結果。
type RunSummary struct {
	RunID      string
	Discovered int
	Stats      RunStats
	Trimmed    int
	Entries    int
}

// Runner は1回分のパイプライン（読み込み→発見→照合→転送→削減→保存）を実行する。
type Runner struct {
	store      LogStore
	source     FeedSource
	dispatcher *Dispatcher
	metrics    MetricsRecorder
	logger     *slog.Logger
	config     RunnerConfig
	now        func() time.Time
}

// NewRunner はRunnerの新しいインスタンスを生成する。
func NewRunner(
	store LogStore,
	source FeedSource,
	dispatcher *Dispatcher,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config RunnerConfig,
) *Runner {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Runner{
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// RunOnce はパイプラインを1回実行する。
// 転送ログが破損している場合はmodel.ErrCorruptedLogをラップしたエラーを返し、何も書き込まない。
// フィード単位の取得失敗は警告としてログに残し、残りのフィードの処理を続ける。
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: uuid.NewString()}
	logger := r.logger.With(slog.String("run_id", summary.RunID))

	loaded, err := r.store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("転送ログの読み込みに失敗: %w", err)
	}

	logger.Info("転送処理を開始します",
		slog.Int("loaded_entries", len(loaded)),
		slog.Int("feed_count", len(r.config.Feeds)),
	)

	discovered := r.discover(ctx, logger)
	summary.Discovered = len(discovered)
	r.metrics.RecordDiscovered(len(discovered))

	work := Reconcile(loaded, discovered, r.now())
	logger.Info("転送ログを照合しました",
		slog.Int("discovered", len(discovered)),
		slog.Int("new_entries", len(work)-len(postURLSet(loaded))),
		slog.Int("work_list", len(work)),
	)

	result := r.dispatcher.Dispatch(ctx, work)
	summary.Stats = result.Stats

	dispatched := result.Entries()
	kept := Trim(dispatched, r.config.MaxLogEntries, r.config.TrimPolicy)
	summary.Trimmed = len(dispatched) - len(kept)
	summary.Entries = len(kept)
	if summary.Trimmed > 0 {
		logger.Info("転送ログを上限まで削減しました",
			slog.Int("trimmed", summary.Trimmed),
			slog.Int("max_log_entries", r.config.MaxLogEntries),
			slog.String("policy", r.config.TrimPolicy.String()),
		)
	}

	// シャットダウン中でも進捗は保存する
	if err := r.store.Save(context.WithoutCancel(ctx), kept); err != nil {
		return summary, fmt.Errorf("転送ログの保存に失敗: %w", err)
	}

	r.metrics.RecordLogEntries(countByState(kept))
	duration := time.Since(start)
	r.metrics.RecordRunDuration(duration)

	logger.Info("転送処理が完了しました",
		slog.Int("forwarded", summary.Stats.Forwarded),
		slog.Int("failed", summary.Stats.Failed),
		slog.Int("gave_up", summary.Stats.GaveUp),
		slog.Int("skipped", summary.Stats.Skipped),
		slog.Bool("rate_limited", summary.Stats.RateLimited),
		slog.Bool("interrupted", summary.Stats.Interrupted),
		slog.Int("entries", summary.Entries),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return summary, nil
}

// discover は全フィードから投稿URLを順に取得し、出現順を保ったまま重複を除いて返す。
func (r *Runner) discover(ctx context.Context, logger *slog.Logger) []string {
	if len(r.config.Feeds) == 0 {
		logger.Warn("取得対象のフィードが設定されていません")
		return nil
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, feedURL := range r.config.Feeds {
		if ctx.Err() != nil {
			break
		}

		found, err := r.source.PostURLs(ctx, feedURL)
		if err != nil {
			r.metrics.RecordFeedFailure()
			logger.Warn("フィードの取得に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		added := 0
		for _, u := range found {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
			added++
		}
		logger.Info("フィードを取得しました",
			slog.String("feed_url", feedURL),
			slog.Int("items_total", len(found)),
			slog.Int("items_added", added),
		)
	}
	return urls
}

func postURLSet(entries []model.LogEntry) map[string]struct{} {
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[e.PostURL] = struct{}{}
	}
	return keys
}

func countByState(entries []model.LogEntry) map[model.EntryState]int {
	counts := map[model.EntryState]int{
		model.StateTodo:   0,
		model.StateRetry:  0,
		model.StateDone:   0,
		model.StateGiveUp: 0,
	}
	for _, e := range entries {
		counts[e.State]++
	}
	return counts
}
