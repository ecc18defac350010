// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
)

// TenantRepository はテナントデータの永続化インターフェース。
type TenantRepository interface {
	// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tenant, error)
}

// ContactRepository はContact（ファン）データの永続化インターフェース。
// (email, tenant_id) のユニーク制約がアップサートの一貫性の拠り所となる。
type ContactRepository interface {
	// FindByID は指定IDのContactを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Contact, error)

	// FindByEmailAndTenant はメールアドレスとテナントIDでContactを検索する。
	// 見つからない場合はnilを返す。
	FindByEmailAndTenant(ctx context.Context, email, tenantID string) (*model.Contact, error)

	// Create はContactを作成する。
	// (email, tenant_id) の重複時はIsUniqueViolationで判定可能なエラーを返す。
	Create(ctx context.Context, contact *model.Contact) error

	// Update はContactの属性を上書き更新する。
	Update(ctx context.Context, contact *model.Contact) error

	// CountByTenant はテナントのContact数を返す。
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

// TagRepository はタグデータの永続化インターフェース。
type TagRepository interface {
	// Ensure は (tenant_id, name) のタグを冪等に取得または作成する。
	Ensure(ctx context.Context, tenantID, name string) (*model.Tag, error)

	// Attach はContactにタグを冪等に付与する。
	Attach(ctx context.Context, contactID, tagID string) error

	// ListByContact はContactに付与されたタグ一覧を返す。
	ListByContact(ctx context.Context, contactID string) ([]*model.Tag, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// FindByContactAndRelease はContact IDとリリースIDで購読を検索する。
	// 見つからない場合はnilを返す。
	FindByContactAndRelease(ctx context.Context, contactID, releaseID string) (*model.Subscription, error)

	// Create は購読を作成する。
	// (contact_id, release_id) の重複時はIsUniqueViolationで判定可能なエラーを返す。
	Create(ctx context.Context, subscription *model.Subscription) error

	// Touch は購読の更新日時のみを進める。statusは変更しない。
	Touch(ctx context.Context, id string, at time.Time) error

	// Activate は購読をACTIVEに遷移させ、更新日時を進める。
	// すでにACTIVEの場合も成功として扱う（冪等）。
	Activate(ctx context.Context, id string, at time.Time) error
}

// ReleaseRepository はリリースデータの読み取りインターフェース。
// リリース本体はダッシュボード側で管理されるため、このコアからは
// メタデータ補完を除き読み取り専用。
type ReleaseRepository interface {
	// FindByID は指定IDのリリースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Release, error)

	// UpdateMetadata はタイトルとアートワークURLをベストエフォートで補完する。
	// 空文字の引数は既存値を維持する。
	UpdateMetadata(ctx context.Context, id, title, artworkURL string) error
}

// IdentityRepository はExternal Identity（ストリーミング接続）の永続化インターフェース。
type IdentityRepository interface {
	// FindByContactAndProvider はContact IDとプロバイダーでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByContactAndProvider(ctx context.Context, contactID string, provider model.Provider) (*model.ExternalIdentity, error)

	// Upsert は (contact_id, provider) の競合時に全フィールドを上書きする。
	// 再認可は失効した資格情報の丸ごと差し替えを意味する。
	Upsert(ctx context.Context, identity *model.ExternalIdentity) error

	// UpdateTokens はアクセストークン・リフレッシュトークン・有効期限を更新する。
	// リフレッシュ成功時にReconciliation Workerから呼ばれる。
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
}

// DueIntent は照合対象のIntentにリリース情報を結合した構造体。
type DueIntent struct {
	model.PreSaveIntent
	ReleaseTitle  string
	ReleaseDate   time.Time
	ReleaseLayout []byte
}

// IntentRepository はPre-Save Intentの永続化インターフェース。
type IntentRepository interface {
	// FindByID は指定IDのIntentを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PreSaveIntent, error)

	// FindByContactReleaseProvider は (contact_id, release_id, provider) でIntentを検索する。
	// 見つからない場合はnilを返す。
	FindByContactReleaseProvider(ctx context.Context, contactID, releaseID string, provider model.Provider) (*model.PreSaveIntent, error)

	// Create はIntentをPENDINGで作成する。
	Create(ctx context.Context, intent *model.PreSaveIntent) error

	// Rearm はIntentをPENDINGに巻き戻し、last_errorをクリアする。
	// FAILEDの終端状態から再照合させる唯一の経路。
	Rearm(ctx context.Context, id string, at time.Time) error

	// ListDue はリリース日が経過したPENDINGのIntentをリリース情報付きで取得する。
	ListDue(ctx context.Context, now time.Time, limit int) ([]DueIntent, error)

	// Claim は status='pending' の場合のみ status='processing' へ遷移させる。
	// 更新行数が1の場合にtrueを返す。並行する照合実行の二重処理を防ぐクレームステップ。
	Claim(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkCompleted はIntentをCOMPLETEDに終端化し、last_errorをクリアする。
	MarkCompleted(ctx context.Context, id string, at time.Time) error

	// MarkFailed はIntentをFAILEDに終端化し、エラーメッセージを記録する。
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
}
