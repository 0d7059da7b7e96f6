// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend API
	APIBaseURL    string
	APITimeout    time.Duration
	APIMaxRetries int
	APIRetryDelay time.Duration
	APIRateLimit  int // req/min

	// Identity provider
	IdentityAPIKey   string
	IdentityBaseURL  string
	IdentityTokenURL string

	// Google sign-in
	GoogleClientID     string
	GoogleClientSecret string
	OAuthCallbackPort  int
	PopupWait          time.Duration
	RedirectWait       time.Duration

	// Session manager
	VerifyInterval       time.Duration
	VerifyTimeout        time.Duration
	TokenRefreshInterval time.Duration
	PostLoginSyncDelay   time.Duration

	// Warmup
	WarmupTimeout  time.Duration
	WarmupInterval time.Duration

	// Storage
	DataDir string

	// Agent
	AgentPort string

	// Environment: production / development
	Env string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envは存在しなくてもエラーにしない
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = os.Getenv("SAVLINK_API_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "SAVLINK_API_URL")
	}

	cfg.IdentityAPIKey = os.Getenv("SAVLINK_IDENTITY_API_KEY")
	if cfg.IdentityAPIKey == "" {
		missing = append(missing, "SAVLINK_IDENTITY_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.APITimeout = getEnvDuration("SAVLINK_API_TIMEOUT", 30*time.Second)
	cfg.APIMaxRetries = getEnvInt("SAVLINK_API_MAX_RETRIES", 3)
	cfg.APIRetryDelay = getEnvDuration("SAVLINK_API_RETRY_DELAY", 1*time.Second)
	cfg.APIRateLimit = getEnvInt("SAVLINK_API_RATE_LIMIT", 120)

	cfg.IdentityBaseURL = getEnvString("SAVLINK_IDENTITY_URL", "https://identitytoolkit.googleapis.com")
	cfg.IdentityTokenURL = getEnvString("SAVLINK_IDENTITY_TOKEN_URL", "https://securetoken.googleapis.com")

	cfg.GoogleClientID = os.Getenv("SAVLINK_GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("SAVLINK_GOOGLE_CLIENT_SECRET")
	cfg.OAuthCallbackPort = getEnvInt("SAVLINK_OAUTH_CALLBACK_PORT", 8943)
	cfg.PopupWait = getEnvDuration("SAVLINK_OAUTH_POPUP_WAIT", 2*time.Minute)
	cfg.RedirectWait = getEnvDuration("SAVLINK_OAUTH_REDIRECT_WAIT", 3*time.Second)

	cfg.VerifyInterval = getEnvDuration("SAVLINK_VERIFY_INTERVAL", 3*time.Minute)
	cfg.VerifyTimeout = getEnvDuration("SAVLINK_VERIFY_TIMEOUT", 15*time.Second)
	cfg.TokenRefreshInterval = getEnvDuration("SAVLINK_TOKEN_REFRESH_INTERVAL", 45*time.Minute)
	cfg.PostLoginSyncDelay = getEnvDuration("SAVLINK_POST_LOGIN_SYNC_DELAY", 100*time.Millisecond)

	cfg.WarmupTimeout = getEnvDuration("SAVLINK_WARMUP_TIMEOUT", 3*time.Second)
	cfg.WarmupInterval = getEnvDuration("SAVLINK_WARMUP_INTERVAL", 2*time.Minute)

	cfg.DataDir = getEnvString("SAVLINK_DATA_DIR", "")
	cfg.AgentPort = getEnvString("SAVLINK_AGENT_PORT", "8484")
	cfg.Env = getEnvString("SAVLINK_ENV", "development")

	return cfg, nil
}

// AgentPortFromEnv はフル設定の読み込みなしにエージェントのポートを返す。
// ヘルスチェックサブコマンドが使用する。
func AgentPortFromEnv() string {
	return getEnvString("SAVLINK_AGENT_PORT", "8484")
}

// IsProduction は本番環境向けのビルドかどうかを返す。
// ウォームアップpingは本番環境でのみ実行される。
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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
