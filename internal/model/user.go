// Package model はドメインモデルを定義する。
package model

import "time"

// User はSavlinkの利用ユーザーを表す。
// バックエンドの /auth/me が返すプロフィールと同じフィールド構成を持つ。
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url"`
	EmailVerified bool      `json:"email_verified"`
	AuthProvider  string    `json:"auth_provider"`
	CreatedAt     time.Time `json:"created_at"`
	LastLoginAt   time.Time `json:"last_login_at"`
}

// SessionStatus はセッションのライフサイクル状態を表す。
// 「キャッシュ由来かつバックエンド確認済み」のような不正な状態を
// booleanフラグの組み合わせで表現できないようにするための列挙型。
type SessionStatus int

const (
	// StatusSignedOut は未ログイン状態。
	StatusSignedOut SessionStatus = iota
	// StatusOptimistic はキャッシュまたはIdP由来の楽観的ログイン状態。
	// バックエンドによる確認はまだ取れていない。
	StatusOptimistic
	// StatusConfirmed はバックエンドの /auth/me で確認済みのログイン状態。
	StatusConfirmed
)

// String はSessionStatusの文字列表現を返す。
func (s SessionStatus) String() string {
	switch s {
	case StatusSignedOut:
		return "signed_out"
	case StatusOptimistic:
		return "optimistic"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Session はクライアントが認識している現在のログイン状態を表す。
// 同時に存在するSessionは常に高々1つで、ライフサイクルは
// SignedOut → Optimistic → Confirmed と遷移し、
// ログアウト（明示・強制とも）でSignedOutに戻る。
type Session struct {
	User         *User
	Status       SessionStatus
	ProviderUID  string
	FromCache    bool
	LastVerified time.Time
	LastUpdated  time.Time
}

// Confirmed はセッションがバックエンド確認済みかどうかを返す。
func (s *Session) Confirmed() bool {
	return s != nil && s.Status == StatusConfirmed
}

// SyncStatus はバックエンド同期の状況を表す。
type SyncStatus struct {
	Synced bool
	Reason string
}
