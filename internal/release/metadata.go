package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/fanlink/internal/repository"
	"github.com/hitoshi/fanlink/internal/security"
)

// defaultOEmbedEndpoint はSpotifyのoEmbedエンドポイント。
const defaultOEmbedEndpoint = "https://open.spotify.com/oembed"

// oEmbedResponse はoEmbedレスポンスのうち利用するフィールド。
type oEmbedResponse struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// MetadataEnricher はストリーミングURLからリリースのタイトル・アートワークを
// ベストエフォートで補完する。URLはテナントが貼り付けた未検証の文字列なので、
// SSRF防止付きクライアントで取得する。
type MetadataEnricher struct {
	releaseRepo repository.ReleaseRepository
	guard       security.SSRFGuardService
	logger      *slog.Logger
	timeout     time.Duration
	maxSize     int64
	endpoint    string // テスト用に差し替え可能
}

// NewMetadataEnricher はMetadataEnricherの新しいインスタンスを生成する。
func NewMetadataEnricher(releaseRepo repository.ReleaseRepository, guard security.SSRFGuardService, timeout time.Duration, maxSize int64, logger *slog.Logger) *MetadataEnricher {
	return &MetadataEnricher{
		releaseRepo: releaseRepo,
		guard:       guard,
		logger:      logger,
		timeout:     timeout,
		maxSize:     maxSize,
		endpoint:    defaultOEmbedEndpoint,
	}
}

// Enrich はoEmbedでメタデータを取得してリリースに書き戻す。
// 失敗はログに記録するのみで、呼び出し元の処理には影響させない。
func (e *MetadataEnricher) Enrich(ctx context.Context, releaseID, streamingURL string) {
	meta, err := e.fetch(ctx, streamingURL)
	if err != nil {
		e.logger.Warn("リリースメタデータの取得に失敗しました",
			slog.String("release_id", releaseID),
			slog.String("error", err.Error()),
		)
		return
	}
	if meta.Title == "" && meta.ThumbnailURL == "" {
		return
	}

	if err := e.releaseRepo.UpdateMetadata(ctx, releaseID, meta.Title, meta.ThumbnailURL); err != nil {
		e.logger.Warn("リリースメタデータの保存に失敗しました",
			slog.String("release_id", releaseID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("リリースメタデータを補完しました",
		slog.String("release_id", releaseID),
		slog.String("title", meta.Title),
	)
}

// fetch はoEmbedエンドポイントからメタデータを取得する。
func (e *MetadataEnricher) fetch(ctx context.Context, streamingURL string) (*oEmbedResponse, error) {
	if err := e.guard.ValidateURL(streamingURL); err != nil {
		return nil, fmt.Errorf("URLの検証に失敗しました: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	endpoint := e.endpoint + "?url=" + url.QueryEscape(streamingURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}

	client := e.guard.NewSafeClient(e.timeout, e.maxSize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oEmbedの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oEmbedがステータス%dを返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	var meta oEmbedResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("oEmbedレスポンスの解析に失敗しました: %w", err)
	}
	return &meta, nil
}
