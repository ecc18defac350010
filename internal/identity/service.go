// Package identity はファンのストリーミングプロバイダー接続を管理する。
// OAuthで取得した資格情報の保存と、照合時のアクセストークン解決を提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/repository"
	"github.com/hitoshi/fanlink/internal/spotify"
)

var (
	// ErrMissingRefreshToken はリフレッシュトークンが保存されていないことを示す。
	// ファンが再認可するまで恒久的に解消しない失敗条件。
	ErrMissingRefreshToken = errors.New("identity: リフレッシュトークンがありません")

	// ErrProviderRefreshFailed はプロバイダーがトークンリフレッシュを拒否したことを示す。
	// 権限取り消し等が原因で、保存済みの資格情報は変更されない。
	ErrProviderRefreshFailed = errors.New("identity: トークンのリフレッシュに失敗しました")
)

// TokenRefresher はリフレッシュトークングラントの呼び出しを抽象化する。
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*spotify.Token, error)
}

// Service はExternal Identityのサービス層。
type Service struct {
	identityRepo repository.IdentityRepository
	refreshers   map[model.Provider]TokenRefresher
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(identityRepo repository.IdentityRepository, refreshers map[model.Provider]TokenRefresher) *Service {
	return &Service{
		identityRepo: identityRepo,
		refreshers:   refreshers,
		now:          time.Now,
	}
}

// Connect はOAuthハンドシェイク成功時に資格情報を保存する。
// 同一 (contact_id, provider) の既存接続は丸ごと上書きされる。
func (s *Service) Connect(ctx context.Context, identity *model.ExternalIdentity) error {
	if !identity.Provider.IsValid() {
		return fmt.Errorf("未対応のプロバイダーです: %s", identity.Provider)
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}

	now := s.now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	if err := s.identityRepo.Upsert(ctx, identity); err != nil {
		return fmt.Errorf("接続情報の保存に失敗しました: %w", err)
	}
	return nil
}

// ValidAccessToken はContactの有効なアクセストークンを解決する。
// 有効期限内なら保存済みトークンをそのまま返し、ネットワーク呼び出しを行わない。
// 期限切れ（または期限不明）の場合はリフレッシュトークングラントで更新し、
// 成功時のみ保存済み資格情報を書き換える。
func (s *Service) ValidAccessToken(ctx context.Context, contactID string, provider model.Provider) (string, error) {
	identity, err := s.identityRepo.FindByContactAndProvider(ctx, contactID, provider)
	if err != nil {
		return "", fmt.Errorf("接続情報の取得に失敗しました: %w", err)
	}
	if identity == nil {
		return "", fmt.Errorf("%w: 接続が見つかりません（contact=%s, provider=%s）", ErrMissingRefreshToken, contactID, provider)
	}

	now := s.now()
	if identity.ExpiresAt != nil && identity.ExpiresAt.After(now) {
		return identity.AccessToken, nil
	}

	if identity.RefreshToken == "" {
		return "", ErrMissingRefreshToken
	}

	refresher, ok := s.refreshers[provider]
	if !ok {
		return "", fmt.Errorf("未対応のプロバイダーです: %s", provider)
	}

	tok, err := refresher.Refresh(ctx, identity.RefreshToken)
	if err != nil {
		var perr *spotify.ProviderError
		if errors.As(err, &perr) {
			return "", fmt.Errorf("%w: %s", ErrProviderRefreshFailed, perr.Error())
		}
		return "", fmt.Errorf("トークンのリフレッシュ呼び出しに失敗しました: %w", err)
	}

	// プロバイダーが新しいリフレッシュトークンを返した場合のみ差し替える。
	refreshToken := identity.RefreshToken
	if tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}

	expiresAt := tok.ExpiresAt
	if err := s.identityRepo.UpdateTokens(ctx, identity.ID, tok.AccessToken, refreshToken, &expiresAt); err != nil {
		return "", fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}

	return tok.AccessToken, nil
}
