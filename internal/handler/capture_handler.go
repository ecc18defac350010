// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fanlink/internal/capture"
	"github.com/hitoshi/fanlink/internal/middleware"
	"github.com/hitoshi/fanlink/internal/model"
)

// ジオロケーションヘッダー。エッジプロキシが付与する2文字の国コード。
const (
	headerCloudflareCountry = "CF-IPCountry"
	headerAppEngineCountry  = "X-AppEngine-Country"
)

// CaptureServiceInterface はCaptureハンドラーが必要とするサービスインターフェース。
type CaptureServiceInterface interface {
	// Capture はファン登録を処理する。
	Capture(ctx context.Context, input capture.Input) (*capture.Result, error)
}

// CaptureMetricsRecorder はCapture結果のメトリクス記録インターフェース。
type CaptureMetricsRecorder interface {
	RecordCapture(created bool)
}

// CaptureHandler は公開ファン登録のHTTPハンドラー。
type CaptureHandler struct {
	service CaptureServiceInterface
	metrics CaptureMetricsRecorder
}

// NewCaptureHandler はCaptureHandlerを生成する。
func NewCaptureHandler(service CaptureServiceInterface, metrics CaptureMetricsRecorder) *CaptureHandler {
	return &CaptureHandler{
		service: service,
		metrics: metrics,
	}
}

// captureRequest はファン登録リクエストのボディ。
type captureRequest struct {
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	ReleaseID string `json:"release_id"`
}

// captureResponse はファン登録のAPIレスポンス。
type captureResponse struct {
	ContactID          string `json:"contact_id"`
	SubscriptionID     string `json:"subscription_id,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
}

// Capture はファン登録を処理する。
// POST /capture
//
// 認証なしの公開エンドポイント。テナントのサイトに埋め込まれた
// フォームからクロスオリジンで呼ばれる。
func (h *CaptureHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	result, err := h.service.Capture(r.Context(), capture.Input{
		TenantID:   req.TenantID,
		Email:      req.Email,
		Name:       req.Name,
		Phone:      req.Phone,
		Country:    req.Country,
		ReleaseID:  req.ReleaseID,
		GeoCountry: geoCountry(r),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordCapture(result.Created)

	resp := captureResponse{ContactID: result.Contact.ID}
	if result.Subscription != nil {
		resp.SubscriptionID = result.Subscription.ID
		resp.SubscriptionStatus = string(result.Subscription.Status)
	}

	statusCode := http.StatusOK
	if result.Created {
		statusCode = http.StatusCreated
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// geoCountry はエッジプロキシのジオロケーションヘッダーから国コードを取得する。
func geoCountry(r *http.Request) string {
	if country := r.Header.Get(headerCloudflareCountry); country != "" {
		return country
	}
	return r.Header.Get(headerAppEngineCountry)
}

// --- ヘルパー関数 ---

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidProvider, model.ErrCodeInvalidState:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeContactLimit:
		return http.StatusConflict
	case model.ErrCodeSubscriptionNotFound,
		model.ErrCodeReleaseNotFound,
		model.ErrCodeContactNotFound,
		model.ErrCodeIntentNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
