package handler

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState はstateパラメーターの検証失敗を表す。
var ErrInvalidState = errors.New("handler: state parameter is invalid")

// oauthState はOAuthフローを跨いで持ち回る署名付きの状態。
// Cookieに依存せずコールバックでContactとReleaseを復元するために使う。
type oauthState struct {
	ContactID string `json:"contact_id"`
	ReleaseID string `json:"release_id"`
	Redirect  string `json:"redirect,omitempty"`
	Nonce     string `json:"nonce"`
}

// stateCodec はoauthStateのHMAC-SHA256署名付きエンコード・デコードを行う。
type stateCodec struct {
	secret []byte
}

// newStateCodec はstateCodecを生成する。
func newStateCodec(secret string) *stateCodec {
	return &stateCodec{secret: []byte(secret)}
}

// Encode はstateを署名付き文字列にエンコードする。
// 形式: base64url(JSON) + "." + base64url(HMAC-SHA256)
func (c *stateCodec) Encode(state oauthState) (string, error) {
	if state.Nonce == "" {
		nonce, err := generateNonce()
		if err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		state.Nonce = nonce
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Decode は署名を検証してstateを復元する。
// 署名の不一致・改ざん・形式不正はすべてErrInvalidStateを返す。
func (c *stateCodec) Decode(raw string) (*oauthState, error) {
	encoded, signature, found := strings.Cut(raw, ".")
	if !found || encoded == "" || signature == "" {
		return nil, ErrInvalidState
	}

	expected := c.sign(encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state oauthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, ErrInvalidState
	}
	if state.ContactID == "" || state.ReleaseID == "" {
		return nil, ErrInvalidState
	}

	return &state, nil
}

// sign はHMAC-SHA256署名をbase64urlで返す。
func (c *stateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// generateNonce はstateのリプレイ識別用ランダム値を生成する。
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
