package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SAVLINK_API_URL", "https://api.savlink.example")
	t.Setenv("SAVLINK_IDENTITY_API_KEY", "test-api-key")
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("SAVLINK_API_URL", "")
	t.Setenv("SAVLINK_IDENTITY_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須環境変数なしで Load がエラーを返さなかった")
	}
	if !strings.Contains(err.Error(), "SAVLINK_API_URL") {
		t.Errorf("エラーに SAVLINK_API_URL が含まれていない: %v", err)
	}
	if !strings.Contains(err.Error(), "SAVLINK_IDENTITY_API_KEY") {
		t.Errorf("エラーに SAVLINK_IDENTITY_API_KEY が含まれていない: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.APITimeout != 30*time.Second {
		t.Errorf("APITimeout = %v, want 30s", cfg.APITimeout)
	}
	if cfg.APIMaxRetries != 3 {
		t.Errorf("APIMaxRetries = %d, want 3", cfg.APIMaxRetries)
	}
	if cfg.VerifyInterval != 3*time.Minute {
		t.Errorf("VerifyInterval = %v, want 3m", cfg.VerifyInterval)
	}
	if cfg.TokenRefreshInterval != 45*time.Minute {
		t.Errorf("TokenRefreshInterval = %v, want 45m", cfg.TokenRefreshInterval)
	}
	if cfg.PostLoginSyncDelay != 100*time.Millisecond {
		t.Errorf("PostLoginSyncDelay = %v, want 100ms", cfg.PostLoginSyncDelay)
	}
	if cfg.OAuthCallbackPort != 8943 {
		t.Errorf("OAuthCallbackPort = %d, want 8943", cfg.OAuthCallbackPort)
	}
	if cfg.AgentPort != "8484" {
		t.Errorf("AgentPort = %q, want %q", cfg.AgentPort, "8484")
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want %q", cfg.Env, "development")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SAVLINK_API_TIMEOUT", "5s")
	t.Setenv("SAVLINK_API_MAX_RETRIES", "1")
	t.Setenv("SAVLINK_VERIFY_INTERVAL", "1m")
	t.Setenv("SAVLINK_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.APITimeout != 5*time.Second {
		t.Errorf("APITimeout = %v, want 5s", cfg.APITimeout)
	}
	if cfg.APIMaxRetries != 1 {
		t.Errorf("APIMaxRetries = %d, want 1", cfg.APIMaxRetries)
	}
	if cfg.VerifyInterval != time.Minute {
		t.Errorf("VerifyInterval = %v, want 1m", cfg.VerifyInterval)
	}
	if !cfg.IsProduction() {
		t.Error("SAVLINK_ENV=production で IsProduction = false")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SAVLINK_API_TIMEOUT", "not-a-duration")
	t.Setenv("SAVLINK_API_MAX_RETRIES", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	// 解析できない値は既定値にフォールバックする。
	if cfg.APITimeout != 30*time.Second {
		t.Errorf("APITimeout = %v, want 30s", cfg.APITimeout)
	}
	if cfg.APIMaxRetries != 3 {
		t.Errorf("APIMaxRetries = %d, want 3", cfg.APIMaxRetries)
	}
}
