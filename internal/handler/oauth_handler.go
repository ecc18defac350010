package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/spotify"
)

// OAuthProviderInterface はOAuthハンドラーが必要とするプロバイダーインターフェース。
type OAuthProviderInterface interface {
	// AuthCodeURL は認可画面へのリダイレクトURLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*spotify.Token, error)
	// FetchProfile はアクセストークンでプロバイダーのアカウント情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*spotify.Profile, error)
}

// IdentityConnectorInterface はOAuthハンドラーが必要とする接続保存インターフェース。
type IdentityConnectorInterface interface {
	// Connect はOAuthハンドシェイク成功時の資格情報を保存する。
	Connect(ctx context.Context, identity *model.ExternalIdentity) error
}

// IntentArmerInterface はコールバック成功時のIntent準備インターフェース。
type IntentArmerInterface interface {
	// Arm はIntentをPENDINGで用意する。既存のIntentは巻き戻される。
	Arm(ctx context.Context, contactID, releaseID string, provider model.Provider) (*model.PreSaveIntent, error)
}

// OAuthHandler はPre-Save用OAuthフローのHTTPハンドラー。
type OAuthHandler struct {
	provider OAuthProviderInterface
	identity IdentityConnectorInterface
	presave  IntentArmerInterface
	codec    *stateCodec
	baseURL  string
	logger   *slog.Logger
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(
	provider OAuthProviderInterface,
	identity IdentityConnectorInterface,
	presave IntentArmerInterface,
	stateSecret string,
	baseURL string,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		provider: provider,
		identity: identity,
		presave:  presave,
		codec:    newStateCodec(stateSecret),
		baseURL:  baseURL,
		logger:   logger,
	}
}

// Login はSpotifyのOAuthフローを開始する。
// GET /presave/spotify/login?contact_id=xxx&release_id=yyy&redirect=zzz
//
// ContactとReleaseの識別子は署名付きstateに埋め込み、コールバックで復元する。
// メールからの遷移でCookieに頼れないため、stateのみで往復を成立させる。
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contact_id")
	releaseID := r.URL.Query().Get("release_id")
	if contactID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("contact_id"))
		return
	}
	if releaseID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("release_id"))
		return
	}

	state, err := h.codec.Encode(oauthState{
		ContactID: contactID,
		ReleaseID: releaseID,
		Redirect:  sanitizeRedirect(r.URL.Query().Get("redirect")),
	})
	if err != nil {
		h.logger.Error("stateの生成に失敗しました", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback はSpotifyのOAuthコールバックを処理する。
// GET /presave/spotify/callback?code=xxx&state=yyy
//
// トークン交換・接続保存・Intentの準備までを1リクエストで行う。
// ファン向けのフローのため、失敗はエラーページではなくクエリパラメーター付きの
// リダイレクトで伝える。
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state, err := h.codec.Decode(r.URL.Query().Get("state"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// ファンが認可画面で拒否した場合
	if denied := r.URL.Query().Get("error"); denied != "" {
		h.logger.Info("認可が拒否されました",
			slog.String("contact_id", state.ContactID),
			slog.String("error", denied),
		)
		h.redirectResult(w, r, state, "denied")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code"))
		return
	}

	token, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("トークン交換に失敗しました",
			slog.String("contact_id", state.ContactID),
			slog.String("error", err.Error()),
		)
		h.redirectResult(w, r, state, "error")
		return
	}

	profile, err := h.provider.FetchProfile(r.Context(), token.AccessToken)
	if err != nil {
		h.logger.Error("プロフィール取得に失敗しました",
			slog.String("contact_id", state.ContactID),
			slog.String("error", err.Error()),
		)
		h.redirectResult(w, r, state, "error")
		return
	}

	expiresAt := token.ExpiresAt
	if err := h.identity.Connect(r.Context(), &model.ExternalIdentity{
		ContactID:         state.ContactID,
		Provider:          model.ProviderSpotify,
		ProviderAccountID: profile.AccountID,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		ExpiresAt:         &expiresAt,
		Scope:             token.Scope,
		TokenType:         token.TokenType,
	}); err != nil {
		h.logger.Error("接続情報の保存に失敗しました",
			slog.String("contact_id", state.ContactID),
			slog.String("error", err.Error()),
		)
		h.redirectResult(w, r, state, "error")
		return
	}

	if _, err := h.presave.Arm(r.Context(), state.ContactID, state.ReleaseID, model.ProviderSpotify); err != nil {
		h.logger.Error("Intentの準備に失敗しました",
			slog.String("contact_id", state.ContactID),
			slog.String("release_id", state.ReleaseID),
			slog.String("error", err.Error()),
		)
		h.redirectResult(w, r, state, "error")
		return
	}

	h.redirectResult(w, r, state, "ok")
}

// redirectResult は結果をクエリパラメーターで付与してリダイレクトする。
func (h *OAuthHandler) redirectResult(w http.ResponseWriter, r *http.Request, state *oauthState, result string) {
	target := state.Redirect
	if target == "" {
		target = h.baseURL
	}
	http.Redirect(w, r, target+"?presave="+url.QueryEscape(result), http.StatusFound)
}

// sanitizeRedirect はオープンリダイレクトを防ぐため相対パスのみを許可する。
func sanitizeRedirect(redirect string) string {
	if redirect == "" {
		return ""
	}
	if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
		return ""
	}
	return redirect
}
