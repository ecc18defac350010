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

	"github.com/hitoshi/fanlink/internal/capture"
	"github.com/hitoshi/fanlink/internal/config"
	"github.com/hitoshi/fanlink/internal/database"
	"github.com/hitoshi/fanlink/internal/handler"
	"github.com/hitoshi/fanlink/internal/identity"
	"github.com/hitoshi/fanlink/internal/logger"
	"github.com/hitoshi/fanlink/internal/mail"
	"github.com/hitoshi/fanlink/internal/metrics"
	"github.com/hitoshi/fanlink/internal/middleware"
	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/presave"
	"github.com/hitoshi/fanlink/internal/release"
	"github.com/hitoshi/fanlink/internal/repository"
	"github.com/hitoshi/fanlink/internal/security"
	"github.com/hitoshi/fanlink/internal/spotify"
	"github.com/hitoshi/fanlink/internal/subscription"
	"github.com/hitoshi/fanlink/internal/worker/reconcile"
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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// instrumentedRefresher はトークンリフレッシュの成否をメトリクスに記録するデコレーター。
type instrumentedRefresher struct {
	refresher identity.TokenRefresher
	collector metrics.MetricsCollector
}

var _ identity.TokenRefresher = (*instrumentedRefresher)(nil)

func (r *instrumentedRefresher) Refresh(ctx context.Context, refreshToken string) (*spotify.Token, error) {
	token, err := r.refresher.Refresh(ctx, refreshToken)
	r.collector.RecordTokenRefresh(err == nil)
	return token, err
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	tenantRepo := repository.NewPostgresTenantRepo(db)
	contactRepo := repository.NewPostgresContactRepo(db)
	tagRepo := repository.NewPostgresTagRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	releaseRepo := repository.NewPostgresReleaseRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	intentRepo := repository.NewPostgresIntentRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	oauth := spotify.NewOAuth(spotify.OAuthConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURL,
		Timeout:      cfg.ProviderTimeout,
	})

	identityService := identity.NewService(identRepo, map[model.Provider]identity.TokenRefresher{
		model.ProviderSpotify: &instrumentedRefresher{refresher: oauth, collector: collector},
	})

	sender := mail.NewSender(cfg.MailjetPublicKey, cfg.MailjetPrivateKey, cfg.EmailSender, slog.Default())

	captureService := capture.NewService(
		tenantRepo, contactRepo, tagRepo, subRepo, releaseRepo,
		sender, cfg.BaseURL, slog.Default(),
	)
	subService := subscription.NewService(subRepo, slog.Default())
	presaveService := presave.NewService(intentRepo, contactRepo, releaseRepo, slog.Default())

	// 5. 照合バッチ（手動トリガー用）
	libraryClient := spotify.NewClient(&http.Client{Timeout: cfg.ProviderTimeout}, slog.Default())
	enricher := release.NewMetadataEnricher(
		releaseRepo, security.NewSSRFGuard(),
		cfg.MetadataTimeout, cfg.MetadataMaxSize, slog.Default(),
	)
	reconciler := reconcile.NewReconciler(
		intentRepo, identityService, libraryClient, enricher,
		collector, slog.Default(), 0,
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitCapture))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		ReconcileSecret:   cfg.ReconcileSecret,
		Logger:            slog.Default(),

		CaptureService:      captureService,
		SubscriptionService: subService,
		PreSaveService:      presaveService,

		OAuthProvider:     oauth,
		IdentityConnector: identityService,
		IntentArmer:       presaveService,
		StateSecret:       cfg.StateSecret,
		BaseURL:           cfg.BaseURL,

		ReconcileRunner: reconciler,

		Metrics: collector,
	})

	// 7. メトリクスサーバーの起動（専用ポート）
	metricsServer := startMetricsServer(cfg.MetricsPort, registry)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、照合スケジューラーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	intentRepo := repository.NewPostgresIntentRepo(db)
	releaseRepo := repository.NewPostgresReleaseRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 照合バッチのワイヤリング
	oauth := spotify.NewOAuth(spotify.OAuthConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURL,
		Timeout:      cfg.ProviderTimeout,
	})
	identityService := identity.NewService(identRepo, map[model.Provider]identity.TokenRefresher{
		model.ProviderSpotify: &instrumentedRefresher{refresher: oauth, collector: collector},
	})
	libraryClient := spotify.NewClient(&http.Client{Timeout: cfg.ProviderTimeout}, slog.Default())
	enricher := release.NewMetadataEnricher(
		releaseRepo, security.NewSSRFGuard(),
		cfg.MetadataTimeout, cfg.MetadataMaxSize, slog.Default(),
	)
	reconciler := reconcile.NewReconciler(
		intentRepo, identityService, libraryClient, enricher,
		collector, slog.Default(), 0,
	)

	// 5. メトリクスサーバーの起動（専用ポート）
	metricsServer := startMetricsServer(cfg.MetricsPort, registry)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	// 照合スケジューラーをメインgoroutineで実行（ブロッキング）
	scheduler := reconcile.NewScheduler(reconciler, slog.Default())
	scheduler.Start(ctx, cfg.ReconcileInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// startMetricsServer はPrometheusメトリクスのHTTPサーバーをバックグラウンドで起動する。
func startMetricsServer(port string, registry *prometheus.Registry) *http.Server {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: metrics.SetupMetricsRoute(registry),
	}

	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	return server
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
