// Package reconcile はPre-Save Intentの照合バッチ処理を提供する。
// リリース日を迎えたPENDINGのIntentを、クレーム → トークン解決 →
// レイアウトからのURL抽出 → ライブラリ追加 → 終端化の順で処理する。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fanlink/internal/metrics"
	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/release"
	"github.com/hitoshi/fanlink/internal/repository"
	"github.com/hitoshi/fanlink/internal/spotify"
)

// maxLastErrorLen はlast_errorに保存するメッセージの上限文字数。
const maxLastErrorLen = 512

// TokenResolver は照合時のアクセストークン解決インターフェース。
type TokenResolver interface {
	ValidAccessToken(ctx context.Context, contactID string, provider model.Provider) (string, error)
}

// LibraryClient はプロバイダーのライブラリ変更APIの呼び出しインターフェース。
type LibraryClient interface {
	AddToLibrary(ctx context.Context, accessToken string, ref model.ContentRef) error
}

// MetadataEnricher はリリースメタデータのベストエフォート補完インターフェース。
type MetadataEnricher interface {
	Enrich(ctx context.Context, releaseID, streamingURL string)
}

// Outcome は1つのIntentの照合結果を表す。
type Outcome struct {
	IntentID  string `json:"intent_id"`
	ReleaseID string `json:"release_id"`
	Result    string `json:"result"` // completed / failed / skipped
	Error     string `json:"error,omitempty"`
}

// Result は照合バッチ1回分の集計結果を表す。
type Result struct {
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"results"`
}

// Reconciler はPre-Save Intentの照合バッチを実行する。
// Intentは1件ずつ順番に処理し、プロバイダーへの同時リクエスト数を抑える。
type Reconciler struct {
	intentRepo repository.IntentRepository
	tokens     TokenResolver
	library    LibraryClient
	enricher   MetadataEnricher
	collector  metrics.MetricsCollector
	logger     *slog.Logger
	batchSize  int
	now        func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// enricherはnilでもよく、その場合メタデータ補完は行わない。
func NewReconciler(
	intentRepo repository.IntentRepository,
	tokens TokenResolver,
	library LibraryClient,
	enricher MetadataEnricher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchSize int,
) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		intentRepo: intentRepo,
		tokens:     tokens,
		library:    library,
		enricher:   enricher,
		collector:  collector,
		logger:     logger,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// RunBatch は照合対象のIntentを1バッチ処理する。
// 1件の失敗は後続のIntentの処理を妨げない。バッチ自体の失敗
// （選択クエリのエラー等）のみエラーを返す。
func (r *Reconciler) RunBatch(ctx context.Context) (*Result, error) {
	start := r.now()

	due, err := r.intentRepo.ListDue(ctx, start, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("照合対象の取得に失敗しました: %w", err)
	}

	result := &Result{Outcomes: make([]Outcome, 0, len(due))}
	for _, intent := range due {
		outcome := r.processIntent(ctx, intent)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Result {
		case "completed":
			result.Processed++
			result.Succeeded++
		case "failed":
			result.Processed++
			result.Failed++
		}
		r.collector.RecordReconcileOutcome(outcome.Result)
	}

	r.collector.RecordReconcileLatency(r.now().Sub(start))
	r.logger.Info("照合バッチが完了しました",
		slog.Int("due", len(due)),
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// processIntent は1つのIntentをクレームして終端状態まで処理する。
// 失敗はFAILEDステータスの書き込みに変換され、エラーとして伝播しない。
func (r *Reconciler) processIntent(ctx context.Context, intent repository.DueIntent) Outcome {
	outcome := Outcome{IntentID: intent.ID, ReleaseID: intent.ReleaseID}

	// クレームステップ: PENDINGの場合のみPROCESSINGへ遷移させる。
	// 別の照合実行に先を越されたIntentはここで除外される。
	claimed, err := r.intentRepo.Claim(ctx, intent.ID, r.now())
	if err != nil {
		r.logger.Error("Intentのクレームに失敗しました",
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
		outcome.Result = "skipped"
		outcome.Error = truncateError(err.Error())
		return outcome
	}
	if !claimed {
		outcome.Result = "skipped"
		return outcome
	}

	// 1. アクセストークンの解決（必要ならリフレッシュ）
	token, err := r.tokens.ValidAccessToken(ctx, intent.ContactID, intent.Provider)
	if err != nil {
		return r.terminalizeFailed(ctx, outcome, err.Error())
	}

	// 2. レイアウトからストリーミングURLを抽出
	streamingURL, found := release.ExtractStreamingURL(intent.ReleaseLayout, intent.Provider)
	if !found {
		// システム障害ではなくデータ品質の問題。メッセージで区別する。
		return r.terminalizeFailed(ctx, outcome, "missing streaming URL: レイアウトにストリーミングURLがありません")
	}

	// リリースメタデータの補完はベストエフォート
	if r.enricher != nil {
		r.enricher.Enrich(ctx, intent.ReleaseID, streamingURL)
	}

	// 3. URLからコンテンツ識別子を抽出
	ref, err := release.ParseContentRef(streamingURL)
	if err != nil {
		return r.terminalizeFailed(ctx, outcome, err.Error())
	}

	// 4. ライブラリ追加APIの呼び出し
	if err := r.library.AddToLibrary(ctx, token, ref); err != nil {
		var statusErr *spotify.APIStatusError
		if errors.As(err, &statusErr) {
			r.collector.RecordProviderStatus(statusErr.StatusCode)
		}
		return r.terminalizeFailed(ctx, outcome, err.Error())
	}
	r.collector.RecordProviderStatus(200)

	// 5. COMPLETEDへ終端化
	if err := r.intentRepo.MarkCompleted(ctx, intent.ID, r.now()); err != nil {
		r.logger.Error("IntentのCOMPLETED遷移に失敗しました",
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
		outcome.Result = "failed"
		outcome.Error = truncateError(err.Error())
		return outcome
	}

	outcome.Result = "completed"
	return outcome
}

// terminalizeFailed はIntentをFAILEDに終端化し、結果を組み立てる。
func (r *Reconciler) terminalizeFailed(ctx context.Context, outcome Outcome, message string) Outcome {
	message = truncateError(message)
	if err := r.intentRepo.MarkFailed(ctx, outcome.IntentID, message, r.now()); err != nil {
		r.logger.Error("IntentのFAILED遷移に失敗しました",
			slog.String("intent_id", outcome.IntentID),
			slog.String("error", err.Error()),
		)
	}
	outcome.Result = "failed"
	outcome.Error = message
	return outcome
}

// truncateError はメッセージを上限文字数で切り詰める。
func truncateError(message string) string {
	if len(message) > maxLastErrorLen {
		return message[:maxLastErrorLen]
	}
	return message
}
