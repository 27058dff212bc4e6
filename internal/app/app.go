package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/holmirdas/internal/config"
	"github.com/hitoshi/holmirdas/internal/feed"
	"github.com/hitoshi/holmirdas/internal/handler"
	"github.com/hitoshi/holmirdas/internal/logger"
	"github.com/hitoshi/holmirdas/internal/logstore"
	"github.com/hitoshi/holmirdas/internal/metrics"
	"github.com/hitoshi/holmirdas/internal/misskey"
	"github.com/hitoshi/holmirdas/internal/security"
	"github.com/hitoshi/holmirdas/internal/worker/relay"
)

// dotEnvFile は起動時に読み込む.envファイルのパス。
const dotEnvFile = ".env"

// shutdownTimeout は運用HTTPサーバーのグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
// SIGINTまたはSIGTERMを受信すると、処理中の転送を中断して進捗を保存する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("METRICS_PORT")
		if port == "" {
			port = "9090"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("instance_url", cfg.InstanceURL),
		slog.Int("feed_count", len(cfg.RSSURLs)),
		slog.String("log_file", cfg.LogFile),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	default:
		return runOnce(ctx, cfg)
	}
}

// newRunner は設定から転送パイプラインを組み立てる。
func newRunner(cfg *config.Config, collector *metrics.Collector) *relay.Runner {
	log := slog.Default()

	// 1. セキュリティサービスの初期化
	ssrfGuard := security.NewGuard()
	if err := ssrfGuard.ValidateAll(cfg.RSSURLs); err != nil {
		// 実行時にもフィード単位で失敗として扱われるため、起動は継続する
		log.Warn("取得できないフィードURLが設定されています",
			slog.String("error", err.Error()),
		)
	}

	// 2. 転送ログとフィード取得
	store := logstore.New(cfg.LogFile)
	source := feed.NewSource(ssrfGuard, log, feed.SourceConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		Interval:    cfg.FeedFetchInterval,
	})

	// 3. 転送先クライアント（自前のインスタンスを指すためSSRFガードは通さない）
	forwarder := misskey.NewClient(
		&http.Client{Timeout: cfg.ForwardTimeout},
		log,
		cfg.InstanceURL,
		cfg.AccessToken,
	)

	policy := relay.TrimEvictOldest
	if cfg.TrimKeepPending {
		policy = relay.TrimKeepPending
	}

	dispatcher := relay.NewDispatcher(forwarder, log, collector, cfg.MaxRetries)
	return relay.NewRunner(store, source, dispatcher, collector, log, relay.RunnerConfig{
		Feeds:         cfg.RSSURLs,
		MaxLogEntries: cfg.MaxLogEntries,
		TrimPolicy:    policy,
	})
}

// runOnce は転送処理を1回実行して終了する。
// PUSHGATEWAY_URLが設定されている場合は終了前にメトリクスを送信する。
func runOnce(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	runner := newRunner(cfg, collector)

	summary, runErr := runner.RunOnce(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ForwardTimeout)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, reg); err != nil {
			slog.Error("メトリクスの送信に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	if runErr != nil {
		return runErr
	}

	if summary.Stats.RateLimited {
		slog.Info("レート制限のため残りは次回の実行に持ち越します",
			slog.String("run_id", summary.RunID),
		)
	}
	return nil
}

// runWorker は常駐モードで起動する。
// RUN_INTERVALごとに転送処理を実行し、METRICS_PORTで運用エンドポイントを公開する。
// 転送ログの破損を検出した場合はエラーを返して終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	runner := newRunner(cfg, collector)
	scheduler := relay.NewScheduler(runner, slog.Default())

	router := handler.NewOpsRouter(handler.OpsDeps{
		Status:  scheduler.Status(),
		Metrics: metrics.Handler(reg),
		Logger:  slog.Default(),
	})

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.MetricsPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("ops server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			cancel()
		}
	}()

	slog.Info("worker starting",
		slog.Duration("run_interval", cfg.RunInterval),
		slog.Int("max_log_entries", cfg.MaxLogEntries),
		slog.Int("max_retries", cfg.MaxRetries),
	)

	// 転送スケジューラをメインgoroutineで実行（ブロッキング）
	schedErr := scheduler.Start(workerCtx, cfg.RunInterval)

	slog.Info("shutting down ops server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", slog.String("error", err.Error()))
	}

	if schedErr != nil {
		return schedErr
	}
	select {
	case err := <-serverErr:
		return fmt.Errorf("ops server failed: %w", err)
	default:
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort("localhost", port))
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
