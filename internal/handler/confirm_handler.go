package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fanlink/internal/model"
)

// SubscriptionServiceInterface は購読確認ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Confirm はダブルオプトインの確認リンク訪問を処理する。冪等。
	Confirm(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

// ConfirmationMetricsRecorder は確認リンク訪問のメトリクス記録インターフェース。
type ConfirmationMetricsRecorder interface {
	RecordConfirmation()
}

// ConfirmHandler はダブルオプトイン確認リンクのHTTPハンドラー。
type ConfirmHandler struct {
	service SubscriptionServiceInterface
	metrics ConfirmationMetricsRecorder
	baseURL string
}

// NewConfirmHandler はConfirmHandlerを生成する。
func NewConfirmHandler(service SubscriptionServiceInterface, metrics ConfirmationMetricsRecorder, baseURL string) *ConfirmHandler {
	return &ConfirmHandler{
		service: service,
		metrics: metrics,
		baseURL: baseURL,
	}
}

// Confirm は確認メール内のリンク訪問を処理する。
// GET /confirm/{subscriptionID}
//
// メールクライアントのリンクプリフェッチで複数回訪問されても安全なように
// 冪等に処理し、成功時はテナントのページにリダイレクトする。
func (h *ConfirmHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	if _, err := h.service.Confirm(r.Context(), subscriptionID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordConfirmation()

	http.Redirect(w, r, h.baseURL+"?confirmed=1", http.StatusFound)
}
