// Package spotify はSpotify Web APIとの連携を提供する。
// OAuthトークンの交換・リフレッシュとライブラリ変更APIの呼び出しを含む。
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL    = "https://accounts.spotify.com/authorize"
	defaultTokenURL   = "https://accounts.spotify.com/api/token"
	defaultProfileURL = "https://api.spotify.com/v1/me"

	// presaveScope はライブラリ追加に必要なOAuthスコープ。
	presaveScope = "user-library-modify"
)

// OAuthConfig はSpotify OAuthプロバイダーの設定。
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// Token はトークンエンドポイントから取得した資格情報を表す。
// RefreshTokenはプロバイダーが新しいものを返した場合のみ非空になる
// （省略は「変更なし」を意味する）。
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// ProviderError はプロバイダー側が返したエラーレスポンスを表す。
type ProviderError struct {
	StatusCode  int
	Code        string // error フィールド（例: "invalid_grant"）
	Description string // error_description フィールド
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("spotify: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("spotify: token endpoint returned status %d", e.StatusCode)
}

// OAuth はSpotifyのOAuth 2.0フロー（認可コード・リフレッシュトークングラント）を提供する。
type OAuth struct {
	conf       *oauth2.Config
	profileURL string
	timeout    time.Duration
}

// NewOAuth はOAuthの新しいインスタンスを生成する。
func NewOAuth(cfg OAuthConfig) *OAuth {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultProfileURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{presaveScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		profileURL: cfg.ProfileURL,
		timeout:    cfg.Timeout,
	}
}

// AuthCodeURL はSpotifyの認可URLを生成する。
// stateにはファン・リリース・リダイレクト先のコンテキストを署名付きで埋め込む。
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換する。
func (o *OAuth) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx, cancel := o.providerContext(ctx)
	defer cancel()

	tok, err := o.conf.Exchange(ctx, code)
	if err != nil {
		return nil, asProviderError(err)
	}
	return fromOAuth2Token(tok), nil
}

// Refresh はリフレッシュトークングラントで新しいアクセストークンを取得する。
// プロバイダー側エラーは*ProviderErrorとして返し、error_descriptionを保持する。
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ctx, cancel := o.providerContext(ctx)
	defer cancel()

	src := o.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, asProviderError(err)
	}

	result := fromOAuth2Token(tok)
	// oauth2は保存済みリフレッシュトークンをそのまま返すことがある。
	// 呼び出し元が「新しいトークンが返された場合のみ上書き」を判断できるよう、
	// 変化がない場合は空にする。
	if result.RefreshToken == refreshToken {
		result.RefreshToken = ""
	}
	return result, nil
}

// profileResponse はSpotifyのプロフィールエンドポイントのレスポンス。
type profileResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
}

// Profile はSpotifyアカウントの識別情報を表す。
type Profile struct {
	AccountID   string
	DisplayName string
	Country     string
}

// FetchProfile はアクセストークンでSpotifyのアカウント情報を取得する。
// OAuthコールバック時にprovider_account_idを確定するために使用する。
func (o *OAuth) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile profileResponse
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("empty account id in profile response")
	}

	return &Profile{
		AccountID:   profile.ID,
		DisplayName: profile.DisplayName,
		Country:     profile.Country,
	}, nil
}

// providerContext はトークンエンドポイント呼び出し用のコンテキストを構築する。
// タイムアウト付きHTTPクライアントをoauth2に注入する。
func (o *OAuth) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: o.timeout})
	return ctx, cancel
}

// tokenErrorBody はトークンエンドポイントのエラーレスポンスボディ。
type tokenErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// asProviderError はoauth2のエラーを*ProviderErrorに変換する。
// プロバイダー起因でないエラー（ネットワーク障害等）はそのまま返す。
func asProviderError(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return err
	}

	pe := &ProviderError{StatusCode: rerr.Response.StatusCode}
	var body tokenErrorBody
	if jsonErr := json.Unmarshal(rerr.Body, &body); jsonErr == nil {
		pe.Code = body.Error
		pe.Description = body.ErrorDescription
	}
	if pe.Description == "" {
		pe.Description = string(rerr.Body)
	}
	return pe
}

// fromOAuth2Token はoauth2.Tokenを内部表現に変換する。
func fromOAuth2Token(tok *oauth2.Token) *Token {
	scope, _ := tok.Extra("scope").(string)
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		ExpiresAt:    tok.Expiry,
	}
}
