package model

// AuthData は認証成功時に返されるセッションとトークンの組。
type AuthData struct {
	Session *Session
	Token   string
}

// AuthResult は認証系操作の結果を表す。
// 公開APIはエラーをpanicや素のerrorとして伝播させず、常にこの形で返す。
//   - Success: 操作が成功したか
//   - Pending: リダイレクト方式のサインインが開始され、完了が後続の
//     初期化処理で観測されることを示す
//   - Cancelled: ユーザー自身による中断。エラーとして扱わない
type AuthResult struct {
	Success   bool
	Pending   bool
	Cancelled bool
	Message   string
	Data      *AuthData
	Err       *APIError
}

// OKResult は成功結果を生成する。
func OKResult(data *AuthData, message string) AuthResult {
	return AuthResult{Success: true, Data: data, Message: message}
}

// PendingResult はリダイレクト保留中の結果を生成する。
func PendingResult(message string) AuthResult {
	return AuthResult{Success: true, Pending: true, Message: message}
}

// CancelledResult はユーザー中断の結果を生成する。
func CancelledResult() AuthResult {
	return AuthResult{Success: false, Cancelled: true}
}

// ErrResult は失敗結果を生成する。
func ErrResult(err *APIError) AuthResult {
	return AuthResult{Success: false, Err: err}
}
