package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/fanlink/internal/model"
)

// ReconcileTokenHeader は内部エンドポイントの共有シークレットを運ぶヘッダー名。
const ReconcileTokenHeader = "X-Reconcile-Token"

// NewSharedSecretMiddleware は共有シークレットによる内部エンドポイントの
// 保護ミドルウェアを返す。照合トリガーと再アームは外部cronや運用ツールから
// 叩かれるため、セッションではなくヘッダーのシークレットで認可する。
func NewSharedSecretMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(ReconcileTokenHeader)
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
