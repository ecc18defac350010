// Package model はドメインモデルを定義する。
package model

import "time"

// Contact は公開ページからメールアドレスを登録したファンを表す。
// (email, tenant_id) の組が自然キーであり、テナントを跨ぐ統合は行わない。
type Contact struct {
	ID        string
	TenantID  string
	Email     string
	Name      string
	Phone     string
	Country   string // ISO 3166-1 alpha-2。ジオロケーションから補完される場合がある。
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag はテナント内で一意な自由形式のラベルを表す。
// Contactと多対多の関係を持つ。
type Tag struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// Tenant は課金とデータ分離の境界を表す。
// Contact、Release、ExternalIdentityは全て1つのテナントに属する。
type Tenant struct {
	ID        string
	Name      string
	Plan      Plan
	CreatedAt time.Time
}

// Subscription はファンとリリースの購読関係（オプトイン状態）を表す。
// (contact_id, release_id) の組で一意。
type Subscription struct {
	ID        string
	ContactID string
	ReleaseID string
	Status    SubscriptionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionStatus は購読のオプトイン状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionStatusPending は確認リンク未訪問のダブルオプトイン待ち状態。
	SubscriptionStatusPending SubscriptionStatus = "pending"
	// SubscriptionStatusActive は確認リンク訪問済みの有効状態。
	// 一度ACTIVEになった購読がPENDINGに戻ることはない。
	SubscriptionStatusActive SubscriptionStatus = "active"
)
