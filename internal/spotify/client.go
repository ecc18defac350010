package spotify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/fanlink/internal/model"
)

const (
	// defaultAPIBase はSpotify Web APIのベースURL。
	defaultAPIBase = "https://api.spotify.com/v1"
	// maxErrorBodySize はIntentのlast_errorに保存するレスポンスボディの上限バイト数。
	maxErrorBodySize = 512
)

// APIStatusError はライブラリ変更APIの非成功レスポンスを表す。
// ボディはエラーメッセージとして保存されるため上限まで切り詰められる。
type APIStatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *APIStatusError) Error() string {
	return fmt.Sprintf("spotify API returned status %d: %s", e.StatusCode, e.Body)
}

// Client はSpotifyライブラリ変更APIのクライアント。
// アクセストークンの有効性は呼び出し元（identityサービス）が保証する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiBase    string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		apiBase:    defaultAPIBase,
	}
}

// libraryPath はコンテンツ種別からライブラリエンドポイントのパスを決定する。
func libraryPath(kind model.ContentKind) (string, error) {
	switch kind {
	case model.ContentKindTrack:
		return "/me/tracks", nil
	case model.ContentKindAlbum:
		return "/me/albums", nil
	default:
		return "", fmt.Errorf("unknown content kind: %s", kind)
	}
}

// AddToLibrary は指定コンテンツをファンのライブラリに追加する。
// PUT /me/{albums|tracks}?ids={id} を実行し、非2xxレスポンスは
// ボディを切り詰めた*APIStatusErrorとして返す。
func (c *Client) AddToLibrary(ctx context.Context, accessToken string, ref model.ContentRef) error {
	path, err := libraryPath(ref.Kind)
	if err != nil {
		return err
	}

	endpoint := c.apiBase + path + "?ids=" + url.QueryEscape(ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create library request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ライブラリ追加APIの呼び出しに失敗しました",
			slog.String("kind", string(ref.Kind)),
			slog.String("content_id", ref.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("library request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return fmt.Errorf("failed to read library response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("ライブラリ追加APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("kind", string(ref.Kind)),
			slog.String("content_id", ref.ID),
		)
		return &APIStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
