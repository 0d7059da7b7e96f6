package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/savlink/savlink-go/internal/model"
)

const (
	// redirectPendingKey は未処理のリダイレクトサインインのマーカーキー。
	redirectPendingKey = "savlink_auth_redirect_pending"

	// redirectPendingTTL はリダイレクトマーカーの有効期限。
	redirectPendingTTL = 10 * time.Minute
)

// redirectPending はリダイレクトフロー開始時に保存されるマーカー。
type redirectPending struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// callbackResult はOAuthコールバックで受け取ったパラメータ。
type callbackResult struct {
	code     string
	state    string
	errParam string
}

// callbackPage はコールバック受信後にブラウザへ返すページ。
const callbackPage = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>Savlink</title></head>
<body><p>サインイン処理が完了しました。このウィンドウを閉じて、ターミナルに戻ってください。</p></body>
</html>`

// loopbackListener はOAuthコールバックを受けるループバックHTTPサーバー。
type loopbackListener struct {
	server   *http.Server
	listener net.Listener
	results  chan callbackResult
}

// newLoopbackListener は127.0.0.1の指定ポートでコールバック待受を開始する。
// ポートが使用中の場合はエラーを返す。
func newLoopbackListener(port int) (*loopbackListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}

	l := &loopbackListener{
		listener: ln,
		results:  make(chan callbackResult, 1),
	}

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		result := callbackResult{
			code:     q.Get("code"),
			state:    q.Get("state"),
			errParam: q.Get("error"),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(callbackPage))

		select {
		case l.results <- result:
		default:
		}
	})

	l.server = &http.Server{Handler: r}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("コールバックサーバーが停止しました", slog.String("error", err.Error()))
		}
	}()

	return l, nil
}

// Wait はコールバックの到着をタイムアウトまで待つ。
func (l *loopbackListener) Wait(ctx context.Context, timeout time.Duration) (*callbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-l.results:
		return &result, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close はコールバックサーバーを停止する。
func (l *loopbackListener) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.server.Shutdown(shutdownCtx)
}

// openBrowser はOSのデフォルトブラウザでURLを開く。
func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}

// PrefersRedirect はポップアップ（ブラウザ起動+ループバック待受）より
// リダイレクト方式が適した環境かどうかを判定する。
func (p *RestProvider) PrefersRedirect() bool {
	// SSH越しのセッションではブラウザを開けない
	if os.Getenv("SSH_TTY") != "" || os.Getenv("SSH_CONNECTION") != "" {
		return true
	}
	// Linuxでディスプレイがない（ヘッドレス）環境
	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return true
	}
	// 一時ストレージが使えない環境ではポップアップの状態管理が不安定
	if p.sessionStore == nil || !p.sessionStore.Available() {
		return true
	}
	// コールバックポートが既に使用中
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p.cfg.CallbackPort))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}

// SignInWithGooglePopup はブラウザを起動してGoogleサインインを行い、
// ループバックでコールバックを受けて完了まで待機する。
func (p *RestProvider) SignInWithGooglePopup(ctx context.Context) (*NativeUser, error) {
	listener, err := newLoopbackListener(p.cfg.CallbackPort)
	if err != nil {
		return nil, NewAuthError(model.AuthCodePopupBlocked,
			fmt.Sprintf("failed to bind callback port: %v", err))
	}
	defer listener.Close()

	state := uuid.New().String()
	loginURL := p.google.LoginURL(state)

	p.logger.Info("Googleサインインのためブラウザを起動します",
		slog.Int("callback_port", p.cfg.CallbackPort),
	)
	if err := p.cfg.OpenBrowser(loginURL); err != nil {
		return nil, NewAuthError(model.AuthCodePopupBlocked,
			fmt.Sprintf("failed to open browser: %v", err))
	}

	result, err := listener.Wait(ctx, p.cfg.PopupWait)
	if err != nil {
		return nil, NewAuthError(model.AuthCodePopupClosedByUser,
			"sign-in was not completed in time")
	}

	return p.consumeCallback(ctx, result, state)
}

// SignInWithGoogleRedirect はリダイレクト方式のサインインを開始する。
// 認証URLを返し、未処理マーカーを一時ストレージに保存する。
// 実際のサインイン完了は次回初期化時のRedirectResultで処理される。
func (p *RestProvider) SignInWithGoogleRedirect(_ context.Context) (string, error) {
	state := uuid.New().String()
	marker := redirectPending{State: state, CreatedAt: p.now()}
	b, err := json.Marshal(marker)
	if err != nil {
		return "", fmt.Errorf("failed to marshal redirect marker: %w", err)
	}
	if p.sessionStore == nil || !p.sessionStore.SetItem(redirectPendingKey, string(b)) {
		return "", NewAuthError(model.AuthCodeMissingInitialState,
			"failed to persist redirect state")
	}
	return p.google.LoginURL(state), nil
}

// RedirectResult は未処理のリダイレクトサインインがあれば完了を待つ。
// 未処理マーカーがない場合は(nil, nil)を返す。
func (p *RestProvider) RedirectResult(ctx context.Context) (*NativeUser, error) {
	if p.sessionStore == nil {
		return nil, nil
	}
	raw, ok := p.sessionStore.GetItem(redirectPendingKey)
	if !ok {
		return nil, nil
	}

	var marker redirectPending
	if err := json.Unmarshal([]byte(raw), &marker); err != nil {
		p.sessionStore.RemoveItem(redirectPendingKey)
		return nil, nil
	}
	if p.now().Sub(marker.CreatedAt) > redirectPendingTTL {
		p.logger.Info("期限切れのリダイレクトマーカーを破棄します")
		p.sessionStore.RemoveItem(redirectPendingKey)
		return nil, nil
	}

	listener, err := newLoopbackListener(p.cfg.CallbackPort)
	if err != nil {
		return nil, NewAuthError(model.AuthCodeMissingInitialState,
			fmt.Sprintf("failed to bind callback port: %v", err))
	}
	defer listener.Close()

	result, err := listener.Wait(ctx, p.cfg.RedirectWait)
	if err != nil {
		// まだコールバックが届いていない。マーカーは期限切れまで残す。
		return nil, nil
	}

	p.sessionStore.RemoveItem(redirectPendingKey)
	return p.consumeCallback(ctx, result, marker.State)
}

// consumeCallback はコールバックパラメータを検証し、
// 認可コードをIdPのフェデレーションサインインへ引き渡す。
func (p *RestProvider) consumeCallback(ctx context.Context, result *callbackResult, expectedState string) (*NativeUser, error) {
	if result.errParam != "" {
		if result.errParam == "access_denied" {
			return nil, NewAuthError(model.AuthCodePopupClosedByUser, "user denied the sign-in request")
		}
		return nil, NewAuthError(model.AuthCodeNoAuthEvent,
			fmt.Sprintf("authorization failed: %s", result.errParam))
	}
	if result.state != expectedState {
		return nil, NewAuthError(model.AuthCodeNoAuthEvent, "state mismatch in callback")
	}
	if result.code == "" {
		return nil, NewAuthError(model.AuthCodeNoAuthEvent, "missing authorization code")
	}

	googleIDToken, err := p.google.ExchangeCode(ctx, result.code)
	if err != nil {
		return nil, NewAuthError(model.AuthCodeNetworkRequestFailed, err.Error())
	}

	return p.signInWithIdp(ctx, googleIDToken)
}

// signInWithIdp はGoogleのid_tokenでIdPにフェデレーションサインインする。
func (p *RestProvider) signInWithIdp(ctx context.Context, googleIDToken string) (*NativeUser, error) {
	var resp tokenResponse
	err := p.post(ctx, p.identityURL("accounts:signInWithIdp"), map[string]any{
		"postBody":            "id_token=" + googleIDToken + "&providerId=google.com",
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.completeSignIn(ctx, &resp, "google.com")
}

// HasPendingRedirect は未処理のリダイレクトマーカーの有無を返す。
func (p *RestProvider) HasPendingRedirect() bool {
	if p.sessionStore == nil {
		return false
	}
	_, ok := p.sessionStore.GetItem(redirectPendingKey)
	return ok
}
