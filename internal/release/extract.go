// Package release はリリースのレイアウト解析とメタデータ補完を提供する。
// レイアウトはテナントが自由に編集するブロックリストJSONであり、
// ここからのURL抽出はベストエフォートの解析として扱う。
package release

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/fanlink/internal/model"
)

// layoutBlock はレイアウト内の1ブロックを表す。
// "links"ブロックはネストしたプラットフォーム別リンク配列か、
// プロバイダー名の直接フィールドのどちらかの形をとる。
type layoutBlock struct {
	Type  string       `json:"type"`
	Links []layoutLink `json:"links"`

	// プロバイダー名の直接フィールド（例: "spotify": "https://..."）は
	// スキーマレスなのでRawで受けて後から引く。
	raw map[string]json.RawMessage
}

type layoutLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// layoutDocument はブロック配列そのもの、または {"blocks": [...]} のラッパー。
// どちらの形式もダッシュボードの版によって実在する。
type layoutDocument struct {
	Blocks []json.RawMessage `json:"blocks"`
}

// ExtractStreamingURL はレイアウトからプロバイダーのストリーミングURLを探す。
// "links"ブロックを先頭から走査し、最初に一致したURLを返す。
// 見つからない場合は ("", false) を返し、エラーにはしない。
func ExtractStreamingURL(layout []byte, provider model.Provider) (string, bool) {
	if len(layout) == 0 {
		return "", false
	}

	blocks := parseBlocks(layout)
	for _, raw := range blocks {
		var block layoutBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		if !strings.EqualFold(block.Type, "links") {
			continue
		}

		// 形式1: ネストしたプラットフォーム別リンク配列
		for _, link := range block.Links {
			if strings.EqualFold(link.Platform, string(provider)) && link.URL != "" {
				return link.URL, true
			}
		}

		// 形式2: プロバイダー名の直接フィールド
		if err := json.Unmarshal(raw, &block.raw); err != nil {
			continue
		}
		for key, value := range block.raw {
			if !strings.EqualFold(key, string(provider)) {
				continue
			}
			var direct string
			if err := json.Unmarshal(value, &direct); err == nil && direct != "" {
				return direct, true
			}
		}
	}
	return "", false
}

// parseBlocks はトップレベルの配列と {"blocks": [...]} の両形式を受け付ける。
func parseBlocks(layout []byte) []json.RawMessage {
	var blocks []json.RawMessage
	if err := json.Unmarshal(layout, &blocks); err == nil {
		return blocks
	}
	var doc layoutDocument
	if err := json.Unmarshal(layout, &doc); err == nil {
		return doc.Blocks
	}
	return nil
}

// ParseContentRef はストリーミングURLからコンテンツ識別子を抽出する。
// Spotifyのパス形式 /track/{id} と /album/{id} に対応する。
func ParseContentRef(rawURL string) (model.ContentRef, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.ContentRef{}, fmt.Errorf("URLの解析に失敗しました: %w", err)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	// intl-ja等のロケールプレフィックスを飛ばして kind/id の並びを探す
	for i := 0; i+1 < len(segments); i++ {
		var kind model.ContentKind
		switch segments[i] {
		case "track":
			kind = model.ContentKindTrack
		case "album":
			kind = model.ContentKindAlbum
		default:
			continue
		}

		id := segments[i+1]
		if id == "" {
			break
		}
		return model.ContentRef{Kind: kind, ID: id}, nil
	}

	return model.ContentRef{}, fmt.Errorf("コンテンツ識別子を抽出できません: %s", rawURL)
}
