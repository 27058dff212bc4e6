package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/holmirdas/internal/model"
)

// SuccessCooldown は転送成功後、次のエントリを処理するまでの固定待機時間。
// 転送先のレート制限（ap/show は1時間あたり30回）を超えないよう間隔を空ける。
const SuccessCooldown = 2 * time.Minute

// Forwarder は投稿URLを転送先へ転送するインターフェース。
// model.ErrRateLimited をラップしたエラーはレート制限、それ以外の非nilエラーは一般的な失敗を表す。
type Forwarder interface {
	Forward(ctx context.Context, postURL string) error
}

// SleepFunc はdの間待機する。ctxがキャンセルされた場合はctx.Err()を返す。
type SleepFunc func(ctx context.Context, d time.Duration) error

// RunStats は1回の実行の集計値。
type RunStats struct {
	Forwarded   int  // 転送に成功した件数
	Failed      int  // 一般的な失敗の件数（GiveUpを含む）
	GaveUp      int  // 今回の実行でGiveUpになった件数
	Skipped     int  // 終端状態のため転送しなかった件数
	RateLimited bool // レート制限により早期終了した
	Interrupted bool // コンテキストのキャンセルにより早期終了した
}

// DispatchResult はディスパッチの結果。
// Processedは訪問済みエントリ、Remainingは早期終了により未訪問のまま残ったエントリで、
// どちらも作業リストの順序を保つ。
type DispatchResult struct {
	Processed []model.LogEntry
	Remaining []model.LogEntry
	Stats     RunStats
}

// Entries は処理済みと未処理のエントリを元の順序で連結して返す。
func (r DispatchResult) Entries() []model.LogEntry {
	entries := make([]model.LogEntry, 0, len(r.Processed)+len(r.Remaining))
	entries = append(entries, r.Processed...)
	entries = append(entries, r.Remaining...)
	return entries
}

// Dispatcher は作業リストを先頭から順に処理し、未完了のエントリを転送する。
// 並列には転送せず、成功のたびに固定時間待機することで転送先への呼び出し間隔を保証する。
type Dispatcher struct {
	forwarder  Forwarder
	logger     *slog.Logger
	metrics    MetricsRecorder
	maxRetries int
	cooldown   time.Duration
	sleep      SleepFunc
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewDispatcher(forwarder Forwarder, logger *slog.Logger, metrics MetricsRecorder, maxRetries int) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Dispatcher{
		forwarder:  forwarder,
		logger:     logger,
		metrics:    metrics,
		maxRetries: maxRetries,
		cooldown:   SuccessCooldown,
		sleep:      sleepContext,
	}
}

// Dispatch は作業リストの各エントリを状態遷移表に従って処理する。
//
//	成功          → Done。次のエントリの前にクールダウンする
//	レート制限    → Todo（試行回数は変えない）。残りを処理せずに終了する
//	その他の失敗  → 試行回数+1。maxRetries未満ならRetry、そうでなければGiveUp
//
// Done/GiveUpのエントリは転送せずにそのまま引き継ぐ。
// 早期終了した場合、現在のエントリとそれ以降の未訪問エントリはRemainingに入る。
func (d *Dispatcher) Dispatch(ctx context.Context, entries []model.LogEntry) DispatchResult {
	result := DispatchResult{
		Processed: make([]model.LogEntry, 0, len(entries)),
	}

	for i, entry := range entries {
		if entry.State.IsTerminal() {
			result.Processed = append(result.Processed, entry)
			result.Stats.Skipped++
			continue
		}

		if ctx.Err() != nil {
			d.logger.Warn("実行がキャンセルされたため転送を中断します",
				slog.Int("remaining", len(entries)-i),
			)
			result.Stats.Interrupted = true
			result.Remaining = append(result.Remaining, entries[i:]...)
			return result
		}

		err := d.forwarder.Forward(ctx, entry.PostURL)

		switch {
		case err == nil:
			next := entry.Succeeded()
			result.Processed = append(result.Processed, next)
			result.Stats.Forwarded++
			d.metrics.RecordForwardSuccess()
			d.logger.Info("投稿を転送しました",
				slog.String("post_url", next.PostURL),
				slog.Int("tries", next.Tries),
			)

			if err := d.sleep(ctx, d.cooldown); err != nil {
				if i+1 < len(entries) {
					result.Stats.Interrupted = true
					result.Remaining = append(result.Remaining, entries[i+1:]...)
					return result
				}
			}

		case errors.Is(err, model.ErrRateLimited):
			next := entry.RateLimited()
			result.Stats.RateLimited = true
			d.metrics.RecordRateLimited()
			d.logger.Warn("転送先のレート制限に達したため今回の実行を終了します",
				slog.String("post_url", next.PostURL),
				slog.Int("tries", next.Tries),
				slog.Int("remaining", len(entries)-i),
			)
			result.Remaining = append(result.Remaining, next)
			result.Remaining = append(result.Remaining, entries[i+1:]...)
			return result

		case ctx.Err() != nil:
			// シャットダウンによる失敗はエントリの試行回数に数えない
			result.Stats.Interrupted = true
			result.Remaining = append(result.Remaining, entries[i:]...)
			return result

		default:
			next := entry.Failed(d.maxRetries)
			result.Processed = append(result.Processed, next)
			result.Stats.Failed++
			d.metrics.RecordForwardFailure()
			if next.State == model.StateGiveUp {
				result.Stats.GaveUp++
				d.metrics.RecordGiveUp()
				d.logger.Warn("再試行上限に達したため転送を諦めます",
					slog.String("post_url", next.PostURL),
					slog.Int("tries", next.Tries),
					slog.String("error", err.Error()),
				)
			} else {
				d.logger.Warn("投稿の転送に失敗しました",
					slog.String("post_url", next.PostURL),
					slog.Int("tries", next.Tries),
					slog.String("state", string(next.State)),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return result
}

// sleepContext はdの間待機する。ctxがキャンセルされた場合は即座に戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
