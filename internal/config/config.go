package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Spotify OAuth
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURL  string

	// Secrets
	StateSecret     string // OAuth stateのHMAC署名キー
	ReconcileSecret string // 照合トリガーエンドポイントの共有シークレット

	// Mailjet
	MailjetPublicKey  string
	MailjetPrivateKey string
	EmailSender       string

	// Provider
	ProviderTimeout time.Duration

	// Reconcile
	ReconcileInterval time.Duration

	// Metadata
	MetadataTimeout time.Duration
	MetadataMaxSize int64

	// Rate Limit
	RateLimitCapture int

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	if cfg.SpotifyClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}

	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	if cfg.SpotifyClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}

	cfg.SpotifyRedirectURL = os.Getenv("SPOTIFY_REDIRECT_URL")
	if cfg.SpotifyRedirectURL == "" {
		missing = append(missing, "SPOTIFY_REDIRECT_URL")
	}

	cfg.StateSecret = os.Getenv("STATE_SECRET")
	if cfg.StateSecret == "" {
		missing = append(missing, "STATE_SECRET")
	}

	cfg.ReconcileSecret = os.Getenv("RECONCILE_SECRET")
	if cfg.ReconcileSecret == "" {
		missing = append(missing, "RECONCILE_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	// Mailjetキーが未設定の場合、確認メール送信はスキップされる（キャプチャ自体は成功する）。
	cfg.MailjetPublicKey = getEnvString("MAILJET_PUBLIC_KEY", "")
	cfg.MailjetPrivateKey = getEnvString("MAILJET_PRIVATE_KEY", "")
	cfg.EmailSender = getEnvString("EMAIL_SENDER", "no-reply@fanlink.app")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", time.Hour)
	cfg.MetadataTimeout = getEnvDuration("METADATA_TIMEOUT", 5*time.Second)
	cfg.MetadataMaxSize = getEnvInt64("METADATA_MAX_SIZE", 1048576)
	cfg.RateLimitCapture = getEnvInt("RATE_LIMIT_CAPTURE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	// 確認リンク・リダイレクトURLの組み立てで末尾スラッシュの揺れを吸収する
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
