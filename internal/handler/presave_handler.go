package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/presave"
)

// PreSaveServiceInterface はPre-Saveハンドラーが必要とするサービスインターフェース。
type PreSaveServiceInterface interface {
	// StatusFor はContactとReleaseの組のIntent状態を照会する。
	StatusFor(ctx context.Context, contactID, releaseID string, provider model.Provider) (*presave.Status, error)
	// Rearm は失敗した（または完了済みの）IntentをPENDINGへ巻き戻す。
	Rearm(ctx context.Context, intentID string) (*model.PreSaveIntent, error)
}

// PreSaveHandler はPre-Save Intent管理のHTTPハンドラー。
type PreSaveHandler struct {
	service PreSaveServiceInterface
}

// NewPreSaveHandler はPreSaveHandlerを生成する。
func NewPreSaveHandler(service PreSaveServiceInterface) *PreSaveHandler {
	return &PreSaveHandler{
		service: service,
	}
}

// presaveStatusResponse はIntent状態照会のAPIレスポンス。
type presaveStatusResponse struct {
	Exists    bool   `json:"exists"`
	IntentID  string `json:"intent_id,omitempty"`
	Status    string `json:"status,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// presaveIntentResponse はIntentのAPIレスポンス。
type presaveIntentResponse struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
	ReleaseID string `json:"release_id"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Status はContactとReleaseの組のIntent状態を照会する。
// GET /api/presave/status?contact_id=xxx&release_id=yyy&provider=spotify
func (h *PreSaveHandler) Status(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contact_id")
	releaseID := r.URL.Query().Get("release_id")
	if contactID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("contact_id"))
		return
	}
	if releaseID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("release_id"))
		return
	}

	provider := model.Provider(r.URL.Query().Get("provider"))
	if provider == "" {
		provider = model.ProviderSpotify
	}

	status, err := h.service.StatusFor(r.Context(), contactID, releaseID, provider)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(presaveStatusResponse{
		Exists:    status.Exists,
		IntentID:  status.IntentID,
		Status:    string(status.Status),
		LastError: status.LastError,
	})
}

// Rearm は失敗したIntentをPENDINGへ巻き戻す。
// POST /api/presave/{id}/rearm
//
// 自動リトライは行わない。巻き戻しは運用者またはファンの明示的な操作のみ。
func (h *PreSaveHandler) Rearm(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "id")

	intent, err := h.service.Rearm(r.Context(), intentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(presaveIntentResponse{
		ID:        intent.ID,
		ContactID: intent.ContactID,
		ReleaseID: intent.ReleaseID,
		Provider:  string(intent.Provider),
		Status:    string(intent.Status),
		LastError: intent.LastError,
	})
}
