// Package identity は外部IdPに対するクライアントを提供する。
//
// メール+パスワードのサインイン/サインアップ、プロフィール更新、
// 確認メール送信、IDトークンの発行と再取得、永続化モードに応じた
// 認証情報の保存、およびGoogleサインイン（ループバック方式と
// リダイレクト方式）を担う。セッションマネージャからはProvider
// インターフェース越しに利用され、テストではモックに差し替えられる。
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

// NativeUser はIdPが保持するユーザー情報を表す。
// バックエンド確認前の楽観的セッションはこの情報から構築される。
type NativeUser struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	PhotoURL      string    `json:"photo_url"`
	EmailVerified bool      `json:"email_verified"`
	ProviderID    string    `json:"provider_id"` // "password", "google.com" 等
	CreatedAt     time.Time `json:"created_at"`
	LastLoginAt   time.Time `json:"last_login_at"`
}

// AuthError はIdP由来のエラーを表す。
// CodeはFirebase互換のエラーコード（model.AuthCode*）。
type AuthError struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewAuthError はAuthErrorを生成する。
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// CodeOf はエラーからIdPエラーコードを取り出す。
// AuthErrorでない場合は空文字列を返す。
func CodeOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsExpiredCode はコードが「セッション失効」を意味するかを返す。
// バックグラウンド検証はこのコードを受けた場合のみ強制ログアウトする。
func IsExpiredCode(code string) bool {
	return code == model.AuthCodeUserTokenExpired || code == model.AuthCodeUserNotFound
}

// Provider はIdPクライアントのインターフェース。
type Provider interface {
	// SetPersistence は認証情報の保持期間を切り替える。
	// 指定モードの保存先が利用できない場合はエラーを返す。
	SetPersistence(mode storage.PersistenceMode) error

	// SignInWithPassword はメール+パスワードでサインインする。
	SignInWithPassword(ctx context.Context, email, password string) (*NativeUser, error)
	// SignUp は新規アカウントを作成してサインインする。
	SignUp(ctx context.Context, email, password string) (*NativeUser, error)
	// UpdateDisplayName は現在のユーザーの表示名を更新する。
	UpdateDisplayName(ctx context.Context, name string) error
	// SendEmailVerification は現在のユーザーに確認メールを送信する。
	SendEmailVerification(ctx context.Context) error
	// SendPasswordReset は指定メールアドレスにパスワード再設定メールを送信する。
	SendPasswordReset(ctx context.Context, email string) error
	// SignOut はIdPからサインアウトし、保存済みの認証情報を破棄する。
	SignOut(ctx context.Context) error

	// CurrentUser は現在のネイティブユーザーを返す。未ログイン時はnil。
	CurrentUser() *NativeUser
	// IDToken はベアラートークンを返す。forceRefreshがtrueの場合、
	// またはキャッシュ済みトークンが失効間近の場合はIdPに再取得を行う。
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	// Reload はIdPからユーザー情報を再取得する。
	Reload(ctx context.Context) error

	// WaitForFirstState は保存済み認証情報の復元を待ち、
	// 復元されたユーザー（なければnil）を返す。初回のみ復元を実行し、
	// 2回目以降は即座に現在の状態を返す。
	WaitForFirstState(ctx context.Context) (*NativeUser, error)
	// OnStateChange はサインイン/サインアウトのリスナーを登録する。
	// 戻り値は登録解除関数。
	OnStateChange(fn func(*NativeUser)) func()

	// PrefersRedirect はこの実行環境でリダイレクト方式を使うべきかを返す。
	PrefersRedirect() bool
	// SignInWithGooglePopup はループバック方式のGoogleサインインを実行する。
	// ブラウザ起動とコールバック受信までブロックする。
	SignInWithGooglePopup(ctx context.Context) (*NativeUser, error)
	// SignInWithGoogleRedirect はリダイレクト方式のサインインを開始し、
	// 認証URLを返す。完了は後続のRedirectResultで観測される。
	SignInWithGoogleRedirect(ctx context.Context) (string, error)
	// RedirectResult は保留中のリダイレクトサインインの完了を確認する。
	// 保留がない場合は (nil, nil) を返す。
	RedirectResult(ctx context.Context) (*NativeUser, error)
}
