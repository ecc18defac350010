package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fanlink/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	ReconcileSecret   string
	Logger            *slog.Logger

	// 公開エンドポイント
	CaptureService      CaptureServiceInterface
	SubscriptionService SubscriptionServiceInterface
	PreSaveService      PreSaveServiceInterface

	// OAuthフロー
	OAuthProvider     OAuthProviderInterface
	IdentityConnector IdentityConnectorInterface
	IntentArmer       IntentArmerInterface
	StateSecret       string
	BaseURL           string

	// 内部エンドポイント
	ReconcileRunner ReconcileRunnerInterface

	// メトリクス
	Metrics RouterMetricsRecorder
}

// RouterMetricsRecorder はHTTP層が記録するメトリクスのインターフェース。
type RouterMetricsRecorder interface {
	CaptureMetricsRecorder
	ConfirmationMetricsRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SecurityHeadersMiddleware → LoggingMiddleware → RecoveryMiddleware
//
// レート制限は公開のPOST /captureのみに、共有シークレット認可は
// 内部の照合トリガーのみに適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	captureHandler := NewCaptureHandler(deps.CaptureService, deps.Metrics)
	confirmHandler := NewConfirmHandler(deps.SubscriptionService, deps.Metrics, deps.BaseURL)
	oauthHandler := NewOAuthHandler(
		deps.OAuthProvider,
		deps.IdentityConnector,
		deps.IntentArmer,
		deps.StateSecret,
		deps.BaseURL,
		deps.Logger,
	)
	presaveHandler := NewPreSaveHandler(deps.PreSaveService)
	reconcileHandler := NewReconcileHandler(deps.ReconcileRunner, deps.Logger)

	// --- 公開ルート（認証なし） ---

	// ファン登録（IP単位レート制限を追加）
	r.With(deps.RateLimiter.CaptureMiddleware()).Post("/capture", captureHandler.Capture)

	// ダブルオプトイン確認リンク
	r.Get("/confirm/{subscriptionID}", confirmHandler.Confirm)

	// Pre-Save OAuthフロー
	r.Route("/presave/spotify", func(r chi.Router) {
		r.Get("/login", oauthHandler.Login)
		r.Get("/callback", oauthHandler.Callback)
	})

	// Intent状態の照会
	r.Get("/api/presave/status", presaveHandler.Status)

	// ヘルスチェック
	r.Get("/healthz", healthzHandler)

	// --- 内部ルート（共有シークレットで保護） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSharedSecretMiddleware(deps.ReconcileSecret))

		r.Post("/internal/reconcile", reconcileHandler.Run)
		r.Post("/api/presave/{id}/rearm", presaveHandler.Rearm)
	})

	return r
}

// healthzHandler はヘルスチェックエンドポイント。
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
