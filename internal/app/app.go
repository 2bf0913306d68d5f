package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/hnreader/internal/cache"
	"github.com/hitoshi/hnreader/internal/config"
	"github.com/hitoshi/hnreader/internal/handler"
	"github.com/hitoshi/hnreader/internal/hn"
	"github.com/hitoshi/hnreader/internal/hydrate"
	"github.com/hitoshi/hnreader/internal/logger"
	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/security"
	"github.com/hitoshi/hnreader/internal/store"
	"github.com/hitoshi/hnreader/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	if cmd == CommandClient {
		return runClient(w, cfg, args[1:])
	}

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// スナップショットを復元し、全依存関係をワイヤリングして
// HTTPサーバーとリフレッシュスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. ストアの初期化とスナップショット復元
	itemStore := store.NewItemStore(cfg.SnapshotPath, cfg.StalenessRatio, slog.Default())
	if err := itemStore.Reload(); err != nil {
		return fmt.Errorf("failed to reload snapshot: %w", err)
	}

	// 3. 上流クライアントの初期化
	sanitizer := security.NewContentSanitizer()
	limiter := rate.NewLimiter(rate.Limit(cfg.UpstreamRate), cfg.UpstreamBurst)
	client := hn.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout},
		limiter, sanitizer, slog.Default(), collector, cfg.SearchPageSize,
	)

	// 4. ハイドレーターとレスポンスキャッシュの初期化
	hydrator := hydrate.NewTreeHydrator(itemStore, client, slog.Default(), cfg.HydrateConcurrency)
	respCache := cache.NewResponseCache()

	// 5. リフレッシュスケジューラの初期化
	scheduler := refresh.NewScheduler(
		itemStore, client, hydrator, respCache, slog.Default(), collector,
	)

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitPerIP > 0 {
		// configのRateLimitPerIPはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.Rate = rate.Limit(float64(cfg.RateLimitPerIP) / 60.0)
		rateLimiterCfg.Burst = cfg.RateLimitPerIP
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		Lists:    respCache,
		Resolver: hydrator,
		Probe:    itemStore,
		Searcher: client,
		Stats:    collector,

		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 8. リフレッシュスケジューラをバックグラウンドで起動
	go scheduler.Start(ctx, cfg.RefreshInterval)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 終了前に最新状態をスナップショットへ書き出す
	if err := itemStore.Snapshot(); err != nil {
		slog.Error("final snapshot failed", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
