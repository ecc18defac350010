package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fanlink/internal/middleware"
	"github.com/hitoshi/fanlink/internal/worker/reconcile"
)

// ReconcileRunnerInterface は照合トリガーハンドラーが必要とするインターフェース。
type ReconcileRunnerInterface interface {
	// RunBatch は期日を迎えたIntentの照合バッチを1回実行する。
	RunBatch(ctx context.Context) (*reconcile.Result, error)
}

// ReconcileHandler は照合バッチの手動トリガーHTTPハンドラー。
// スケジューラーとは独立に、共有シークレットで保護された内部エンドポイントから
// バッチを即時実行できるようにする。
type ReconcileHandler struct {
	runner ReconcileRunnerInterface
	logger *slog.Logger
}

// NewReconcileHandler はReconcileHandlerを生成する。
func NewReconcileHandler(runner ReconcileRunnerInterface, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		runner: runner,
		logger: logger,
	}
}

// Run は照合バッチを1回実行し、結果サマリーを返す。
// POST /internal/reconcile
func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunBatch(r.Context())
	if err != nil {
		h.logger.Error("照合バッチの実行に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
