// Package model はドメインモデルを定義する。
package model

// ContentKind はストリーミングプロバイダー上のコンテンツ種別を表す。
type ContentKind string

const (
	// ContentKindTrack は単一トラック。
	ContentKindTrack ContentKind = "track"
	// ContentKindAlbum はアルバム（コレクション）。
	ContentKindAlbum ContentKind = "album"
)

// ContentRef はプロバイダー上のコンテンツ参照（種別とID）を表す。
// テナントが貼り付けたURLからのベストエフォート抽出の結果。
type ContentRef struct {
	Kind ContentKind
	ID   string
}
