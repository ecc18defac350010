// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はストリーミングプロバイダーの識別子を表す。
type Provider string

const (
	// ProviderSpotify はSpotifyを表す。
	ProviderSpotify Provider = "spotify"
)

// IsValid は既知のプロバイダーかどうかを判定する。
func (p Provider) IsValid() bool {
	return p == ProviderSpotify
}

// ExternalIdentity はファンのストリーミングプロバイダー接続情報を表す。
// (contact_id, provider) の組で一意。OAuthハンドシェイク成功時に全体が上書きされる。
type ExternalIdentity struct {
	ID                string
	ContactID         string
	Provider          Provider
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string     // 空の場合、リフレッシュ不能（再認可まで恒久的な失敗条件）
	ExpiresAt         *time.Time // nilは「期限不明」を意味し、期限切れとして扱う
	Scope             string
	TokenType         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PreSaveIntent は未リリース作品をライブラリへ自動追加する約束を表す。
// (contact_id, release_id, provider) の組で一意。
type PreSaveIntent struct {
	ID        string
	ContactID string
	ReleaseID string
	Provider  Provider
	Status    IntentStatus
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntentStatus はPre-Save Intentのライフサイクル状態を表す。
type IntentStatus string

const (
	// IntentStatusPending は照合待ち状態。照合対象はこの状態のみ。
	IntentStatusPending IntentStatus = "pending"
	// IntentStatusProcessing はワーカーがクレーム済みの状態。
	// 条件付きUPDATEによるクレームで、重複実行時の二重処理を防ぐ。
	IntentStatusProcessing IntentStatus = "processing"
	// IntentStatusCompleted はライブラリ追加が成功した終端状態。
	IntentStatusCompleted IntentStatus = "completed"
	// IntentStatusFailed は失敗の終端状態。自動リトライは行わず、
	// 明示的な再アーム（PENDINGへの巻き戻し）まで終端のまま維持される。
	IntentStatusFailed IntentStatus = "failed"
)

// Release はテナントが作成したリリース（作品）を表す。
// このコアからは読み取り専用で、レイアウトからのURL抽出はベストエフォート。
type Release struct {
	ID          string
	TenantID    string
	Title       string
	ArtworkURL  string
	ReleaseDate time.Time
	Layout      []byte // テナントが作成した自由形式のブロックリストJSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsReleased はリリース日が経過しているかどうかを判定する。
func (r *Release) IsReleased(now time.Time) bool {
	return !r.ReleaseDate.After(now)
}
