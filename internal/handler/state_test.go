package handler

import (
	"errors"
	"testing"
)

func TestStateCodec_EncodeDecode(t *testing.T) {
	codec := newStateCodec("test-secret")

	encoded, err := codec.Encode(oauthState{
		ContactID: "contact-1",
		ReleaseID: "release-1",
		Redirect:  "/r/summer-ep",
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.ContactID != "contact-1" {
		t.Errorf("ContactID = %q, want contact-1", decoded.ContactID)
	}
	if decoded.ReleaseID != "release-1" {
		t.Errorf("ReleaseID = %q, want release-1", decoded.ReleaseID)
	}
	if decoded.Redirect != "/r/summer-ep" {
		t.Errorf("Redirect = %q, want /r/summer-ep", decoded.Redirect)
	}
	if decoded.Nonce == "" {
		t.Error("Nonce should be generated automatically")
	}
}

func TestStateCodec_Decode_TamperedSignature(t *testing.T) {
	codec := newStateCodec("test-secret")

	encoded, err := codec.Encode(oauthState{ContactID: "contact-1", ReleaseID: "release-1"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	// 署名部分を改ざん
	tampered := encoded[:len(encoded)-4] + "xxxx"
	if _, err := codec.Decode(tampered); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Decode(tampered) error = %v, want ErrInvalidState", err)
	}
}

func TestStateCodec_Decode_WrongSecret(t *testing.T) {
	encoded, err := newStateCodec("secret-a").Encode(oauthState{ContactID: "c", ReleaseID: "r"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	if _, err := newStateCodec("secret-b").Decode(encoded); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Decode with wrong secret error = %v, want ErrInvalidState", err)
	}
}

func TestStateCodec_Decode_Malformed(t *testing.T) {
	codec := newStateCodec("test-secret")

	tests := []struct {
		name string
		raw  string
	}{
		{"空文字列", ""},
		{"区切りなし", "noseparator"},
		{"ペイロードなし", ".sig"},
		{"署名なし", "payload."},
		{"任意の文字列", "not-a-valid-state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decode(tt.raw); !errors.Is(err, ErrInvalidState) {
				t.Errorf("Decode(%q) error = %v, want ErrInvalidState", tt.raw, err)
			}
		})
	}
}

func TestStateCodec_NonceVariesPerEncode(t *testing.T) {
	codec := newStateCodec("test-secret")

	first, err := codec.Encode(oauthState{ContactID: "c", ReleaseID: "r"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	second, err := codec.Encode(oauthState{ContactID: "c", ReleaseID: "r"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	if first == second {
		t.Error("same payload should encode differently due to nonce")
	}
}

func TestSanitizeRedirect(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		want     string
	}{
		{"相対パス", "/r/summer-ep", "/r/summer-ep"},
		{"空文字列", "", ""},
		{"絶対URL", "https://evil.example/phish", ""},
		{"プロトコル相対URL", "//evil.example/phish", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeRedirect(tt.redirect); got != tt.want {
				t.Errorf("sanitizeRedirect(%q) = %q, want %q", tt.redirect, got, tt.want)
			}
		})
	}
}
