package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, transport, storage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IdP由来のエラーコード。
// Firebase互換のコード体系をそのまま使用する。
const (
	AuthCodeEmailAlreadyInUse     = "auth/email-already-in-use"
	AuthCodeInvalidEmail          = "auth/invalid-email"
	AuthCodeOperationNotAllowed   = "auth/operation-not-allowed"
	AuthCodeWeakPassword          = "auth/weak-password"
	AuthCodeUserDisabled          = "auth/user-disabled"
	AuthCodeUserNotFound          = "auth/user-not-found"
	AuthCodeWrongPassword         = "auth/wrong-password"
	AuthCodeInvalidCredential     = "auth/invalid-credential"
	AuthCodeTooManyRequests       = "auth/too-many-requests"
	AuthCodeNetworkRequestFailed  = "auth/network-request-failed"
	AuthCodePopupClosedByUser     = "auth/popup-closed-by-user"
	AuthCodeCancelledPopupRequest = "auth/cancelled-popup-request"
	AuthCodeAccountExists         = "auth/account-exists-with-different-credential"
	AuthCodePopupBlocked          = "auth/popup-blocked"
	AuthCodeRequiresRecentLogin   = "auth/requires-recent-login"
	AuthCodeMissingInitialState   = "auth/missing-initial-state"
	AuthCodeUserTokenExpired      = "auth/user-token-expired"
	AuthCodeNoAuthEvent           = "auth/no-auth-event"
	AuthCodeWebStorageUnsupported = "auth/web-storage-unsupported"
)

// authErrorMessages はIdPエラーコードからユーザー向けメッセージへの固定変換表。
var authErrorMessages = map[string]string{
	AuthCodeEmailAlreadyInUse:     "このメールアドレスは既に登録されています。",
	AuthCodeInvalidEmail:          "有効なメールアドレスを入力してください。",
	AuthCodeOperationNotAllowed:   "この操作は許可されていません。",
	AuthCodeWeakPassword:          "パスワードは6文字以上にしてください。",
	AuthCodeUserDisabled:          "このアカウントは無効化されています。",
	AuthCodeUserNotFound:          "このメールアドレスのアカウントが見つかりません。",
	AuthCodeWrongPassword:         "パスワードが正しくありません。",
	AuthCodeInvalidCredential:     "メールアドレスまたはパスワードが正しくありません。",
	AuthCodeTooManyRequests:       "試行回数が多すぎます。しばらくしてから再度お試しください。",
	AuthCodeNetworkRequestFailed:  "ネットワークエラーです。接続を確認してください。",
	AuthCodePopupClosedByUser:     "サインインがキャンセルされました。",
	AuthCodeCancelledPopupRequest: "別のサインイン処理が進行中です。",
	AuthCodeAccountExists:         "別のサインイン方法で登録済みのアカウントがあります。",
	AuthCodePopupBlocked:          "ブラウザを起動できませんでした。リダイレクト方式をお試しください。",
	AuthCodeRequiresRecentLogin:   "再度ログインしてください。",
	AuthCodeMissingInitialState:   "一時ストレージに問題が発生しました。再度お試しください。",
	AuthCodeUserTokenExpired:      "セッションの有効期限が切れました。再度ログインしてください。",
}

// genericAuthErrorMessage は変換表にないコードに使う汎用メッセージ。
const genericAuthErrorMessage = "エラーが発生しました。再度お試しください。"

// TranslateAuthCode はIdPエラーコードをユーザー向けメッセージに変換する。
// 変換表にないコードには汎用メッセージを返す。
func TranslateAuthCode(code string) string {
	if msg, ok := authErrorMessages[code]; ok {
		return msg
	}
	return genericAuthErrorMessage
}

// NewAuthError はIdP由来のエラーを統一フォーマットに変換して生成する。
func NewAuthError(code string) *APIError {
	return &APIError{
		Code:     code,
		Message:  TranslateAuthCode(code),
		Category: "auth",
		Action:   "入力内容を確認のうえ、再度お試しください。",
	}
}

// NewTransportError は通信エラーを生成する。
func NewTransportError(reason string) *APIError {
	return &APIError{
		Code:     "TRANSPORT_ERROR",
		Message:  fmt.Sprintf("通信に失敗しました: %s", reason),
		Category: "transport",
		Action:   "接続を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewStorageUnavailableError はローカルストレージ利用不可エラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     "STORAGE_UNAVAILABLE",
		Message:  "ローカルストレージを利用できません。",
		Category: "storage",
		Action:   "認証情報はこのプロセスの間のみ保持されます。",
	}
}

// NewLogoutFailedError はサインアウト失敗エラーを生成する。
func NewLogoutFailedError() *APIError {
	return &APIError{
		Code:     "LOGOUT_FAILED",
		Message:  "サインアウトに失敗しました。",
		Category: "auth",
		Action:   "再度お試しください。",
	}
}

// NewNotAuthenticatedError は未ログイン状態での操作エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     "NOT_AUTHENTICATED",
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "先にログインしてください。",
	}
}
