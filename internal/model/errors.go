// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, capture, presave, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeContactLimit         = "CONTACT_LIMIT"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeReleaseNotFound      = "RELEASE_NOT_FOUND"
	ErrCodeContactNotFound      = "CONTACT_NOT_FOUND"
	ErrCodeIntentNotFound       = "INTENT_NOT_FOUND"
	ErrCodeInvalidProvider      = "INVALID_PROVIDER"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
)

// NewValidationError は必須入力欠落エラーを生成する。
func NewValidationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("必須項目が指定されていません: %s", field),
		Category: "validation",
		Action:   fmt.Sprintf("%s を指定してください。", field),
	}
}

// NewContactLimitError はテナントのContact数上限エラーを生成する。
func NewContactLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeContactLimit,
		Message:  fmt.Sprintf("ファン登録数がプランの上限（%d件）に達しています。", limit),
		Category: "capture",
		Action:   "プランをアップグレードするか、不要なContactを削除してください。",
	}
}

// NewSubscriptionNotFoundError は購読未検出エラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", subscriptionID),
		Category: "capture",
		Action:   "確認リンクのURLが完全かどうか確認してください。",
	}
}

// NewReleaseNotFoundError はリリース未検出エラーを生成する。
func NewReleaseNotFoundError(releaseID string) *APIError {
	return &APIError{
		Code:     ErrCodeReleaseNotFound,
		Message:  fmt.Sprintf("指定されたリリースが見つかりません: %s", releaseID),
		Category: "presave",
		Action:   "リリースIDを確認してください。",
	}
}

// NewContactNotFoundError はContact未検出エラーを生成する。
func NewContactNotFoundError(contactID string) *APIError {
	return &APIError{
		Code:     ErrCodeContactNotFound,
		Message:  fmt.Sprintf("指定されたContactが見つかりません: %s", contactID),
		Category: "presave",
		Action:   "Contact IDを確認してください。",
	}
}

// NewIntentNotFoundError はPre-Save Intent未検出エラーを生成する。
func NewIntentNotFoundError(intentID string) *APIError {
	return &APIError{
		Code:     ErrCodeIntentNotFound,
		Message:  fmt.Sprintf("指定されたPre-Save Intentが見つかりません: %s", intentID),
		Category: "presave",
		Action:   "Intent IDを確認してください。",
	}
}

// NewInvalidProviderError は未対応プロバイダーエラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", provider),
		Category: "validation",
		Action:   "対応プロバイダー（spotify）を指定してください。",
	}
}

// NewInvalidStateError はOAuth stateパラメータ不正エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "OAuth stateパラメータの検証に失敗しました。",
		Category: "presave",
		Action:   "Pre-Saveリンクからやり直してください。",
	}
}

// NewUnauthorizedError は認可エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "このエンドポイントへのアクセスは許可されていません。",
		Category: "system",
		Action:   "正しい共有シークレットをヘッダーに指定してください。",
	}
}
