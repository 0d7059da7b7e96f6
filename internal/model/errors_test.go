package model

import "testing"

func TestTranslateAuthCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{AuthCodeUserNotFound, "このメールアドレスのアカウントが見つかりません。"},
		{AuthCodeWrongPassword, "パスワードが正しくありません。"},
		{AuthCodeWeakPassword, "パスワードは6文字以上にしてください。"},
		{AuthCodeUserTokenExpired, "セッションの有効期限が切れました。再度ログインしてください。"},
		{"auth/unknown-code", genericAuthErrorMessage},
		{"", genericAuthErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := TranslateAuthCode(tt.code); got != tt.want {
				t.Errorf("TranslateAuthCode(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestNewAuthError(t *testing.T) {
	err := NewAuthError(AuthCodeWrongPassword)
	if err.Code != AuthCodeWrongPassword {
		t.Errorf("Code = %q, want %q", err.Code, AuthCodeWrongPassword)
	}
	if err.Message != "パスワードが正しくありません。" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestSessionStatus_String(t *testing.T) {
	tests := []struct {
		status SessionStatus
		want   string
	}{
		{StatusSignedOut, "signed_out"},
		{StatusOptimistic, "optimistic"},
		{StatusConfirmed, "confirmed"},
		{SessionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSession_Confirmed(t *testing.T) {
	var nilSession *Session
	if nilSession.Confirmed() {
		t.Error("nil セッションで Confirmed = true")
	}
	if (&Session{Status: StatusOptimistic}).Confirmed() {
		t.Error("Optimistic セッションで Confirmed = true")
	}
	if !(&Session{Status: StatusConfirmed}).Confirmed() {
		t.Error("Confirmed セッションで Confirmed = false")
	}
}
