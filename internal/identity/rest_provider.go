package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

const (
	defaultIdentityBaseURL  = "https://identitytoolkit.googleapis.com"
	defaultIdentityTokenURL = "https://securetoken.googleapis.com"

	// credentialsKey は保存される認証情報のキー。
	credentialsKey = "savlink_auth_credentials"

	// idTokenSkew はキャッシュ済みIDトークンを失効前に再取得し始める余裕。
	idTokenSkew = 2 * time.Minute
)

// Config はRestProviderの設定。
type Config struct {
	APIKey   string
	BaseURL  string // IdP APIのベースURL。テストでhttptestに差し替え可能。
	TokenURL string // トークン再取得エンドポイントのベースURL。

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Googleサインイン
	GoogleClientID     string
	GoogleClientSecret string
	CallbackPort       int
	PopupWait          time.Duration
	RedirectWait       time.Duration
	// OpenBrowser はブラウザ起動関数。テストで差し替え可能。
	OpenBrowser func(url string) error
	// GoogleAuthURL / GoogleTokenURL はテスト用にオーバーライド可能。
	GoogleAuthURL  string
	GoogleTokenURL string
}

// storedCredentials は永続化される認証情報。
type storedCredentials struct {
	User         NativeUser `json:"user"`
	RefreshToken string     `json:"refresh_token"`
}

// RestProvider はIdPのREST APIを呼び出すProvider実装。
type RestProvider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	google     *googleOAuthClient

	localStore   *storage.SafeStore
	sessionStore *storage.SafeStore
	memStore     *storage.SafeStore

	mu            sync.Mutex
	mode          storage.PersistenceMode
	current       *NativeUser
	refreshToken  string
	idToken       string
	idTokenExpiry time.Time
	restoreOnce   sync.Once

	listenersMu sync.Mutex
	listeners   map[string]func(*NativeUser)

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewRestProvider はRestProviderを生成する。
// localとsessionは永続化層のストア。どちらが利用不可でも動作し、
// その場合はインメモリ層にフォールバックする。
func NewRestProvider(cfg Config, local, session *storage.SafeStore) *RestProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultIdentityBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultIdentityTokenURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PopupWait <= 0 {
		cfg.PopupWait = 2 * time.Minute
	}
	if cfg.RedirectWait <= 0 {
		cfg.RedirectWait = 3 * time.Second
	}
	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = openBrowser
	}

	p := &RestProvider{
		cfg:          cfg,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
		localStore:   local,
		sessionStore: session,
		memStore:     storage.NewSafeStore("memory", storage.NewMemoryStore(), cfg.Logger),
		listeners:    make(map[string]func(*NativeUser)),
		now:          time.Now,
	}
	p.google = newGoogleOAuthClient(googleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.CallbackPort),
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
	}, cfg.HTTPClient)

	// デフォルトの永続化モード: local → session → memory
	switch {
	case local != nil && local.Available():
		p.mode = storage.ModeLocal
	case session != nil && session.Available():
		p.mode = storage.ModeSession
	default:
		p.mode = storage.ModeMemory
	}

	return p
}

// SetPersistence は認証情報の保持期間を切り替える。
func (p *RestProvider) SetPersistence(mode storage.PersistenceMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	store := p.storeFor(mode)
	if store == nil || !store.Available() {
		return NewAuthError(model.AuthCodeWebStorageUnsupported,
			fmt.Sprintf("persistence mode %q is not available", mode))
	}

	if p.mode != mode {
		p.mode = mode
		// 既存の認証情報を新しい保存先へ移す
		p.persistCredentialsLocked()
	}
	return nil
}

// Mode は現在の永続化モードを返す。
func (p *RestProvider) Mode() storage.PersistenceMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *RestProvider) storeFor(mode storage.PersistenceMode) *storage.SafeStore {
	switch mode {
	case storage.ModeLocal:
		return p.localStore
	case storage.ModeSession:
		return p.sessionStore
	case storage.ModeMemory:
		return p.memStore
	default:
		return nil
	}
}

// SignInWithPassword はメール+パスワードでサインインする。
func (p *RestProvider) SignInWithPassword(ctx context.Context, email, password string) (*NativeUser, error) {
	var resp tokenResponse
	err := p.post(ctx, p.identityURL("accounts:signInWithPassword"), map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.completeSignIn(ctx, &resp, "password")
}

// SignUp は新規アカウントを作成してサインインする。
func (p *RestProvider) SignUp(ctx context.Context, email, password string) (*NativeUser, error) {
	var resp tokenResponse
	err := p.post(ctx, p.identityURL("accounts:signUp"), map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.completeSignIn(ctx, &resp, "password")
}

// UpdateDisplayName は現在のユーザーの表示名を更新する。
func (p *RestProvider) UpdateDisplayName(ctx context.Context, name string) error {
	token, err := p.IDToken(ctx, false)
	if err != nil {
		return err
	}
	var resp tokenResponse
	err = p.post(ctx, p.identityURL("accounts:update"), map[string]any{
		"idToken":     token,
		"displayName": name,
	}, &resp)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.current != nil {
		p.current.DisplayName = name
		p.persistCredentialsLocked()
	}
	p.mu.Unlock()
	return nil
}

// SendEmailVerification は現在のユーザーに確認メールを送信する。
func (p *RestProvider) SendEmailVerification(ctx context.Context) error {
	token, err := p.IDToken(ctx, false)
	if err != nil {
		return err
	}
	return p.post(ctx, p.identityURL("accounts:sendOobCode"), map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     token,
	}, nil)
}

// SendPasswordReset は指定メールアドレスにパスワード再設定メールを送信する。
func (p *RestProvider) SendPasswordReset(ctx context.Context, email string) error {
	return p.post(ctx, p.identityURL("accounts:sendOobCode"), map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// SignOut はサインアウトし、全層の保存済み認証情報を破棄する。
func (p *RestProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.refreshToken = ""
	p.idToken = ""
	p.idTokenExpiry = time.Time{}
	for _, s := range []*storage.SafeStore{p.localStore, p.sessionStore, p.memStore} {
		if s != nil {
			s.RemoveItem(credentialsKey)
		}
	}
	p.mu.Unlock()

	p.notifyStateChange(nil)
	return nil
}

// CurrentUser は現在のネイティブユーザーを返す。
func (p *RestProvider) CurrentUser() *NativeUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

// IDToken はベアラートークンを返す。
// 失効間近またはforceRefresh時はリフレッシュトークンで再取得する。
func (p *RestProvider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return "", NewAuthError(model.AuthCodeUserNotFound, "no signed-in user")
	}
	if !forceRefresh && p.idToken != "" && p.now().Before(p.idTokenExpiry.Add(-idTokenSkew)) {
		token := p.idToken
		p.mu.Unlock()
		return token, nil
	}
	refreshToken := p.refreshToken
	p.mu.Unlock()

	if refreshToken == "" {
		return "", NewAuthError(model.AuthCodeUserTokenExpired, "no refresh token")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.TokenURL+"/v1/token?key="+url.QueryEscape(p.cfg.APIKey),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", NewAuthError(model.AuthCodeNetworkRequestFailed, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewAuthError(model.AuthCodeNetworkRequestFailed, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return "", mapIdentityError(body)
	}

	var refreshed struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &refreshed); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	p.mu.Lock()
	p.idToken = refreshed.IDToken
	p.idTokenExpiry = p.now().Add(parseExpiresIn(refreshed.ExpiresIn))
	if refreshed.RefreshToken != "" {
		p.refreshToken = refreshed.RefreshToken
	}
	p.persistCredentialsLocked()
	token := p.idToken
	p.mu.Unlock()

	return token, nil
}

// Reload はIdPからユーザー情報を再取得する。
func (p *RestProvider) Reload(ctx context.Context) error {
	token, err := p.IDToken(ctx, false)
	if err != nil {
		return err
	}

	user, err := p.lookup(ctx, token)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.current != nil {
		user.LastLoginAt = p.current.LastLoginAt
		p.current = user
		p.persistCredentialsLocked()
	}
	p.mu.Unlock()
	return nil
}

// WaitForFirstState は保存済み認証情報の復元を待つ。
func (p *RestProvider) WaitForFirstState(_ context.Context) (*NativeUser, error) {
	p.restoreOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		for _, mode := range []storage.PersistenceMode{storage.ModeLocal, storage.ModeSession} {
			store := p.storeFor(mode)
			if store == nil {
				continue
			}
			raw, ok := store.GetItem(credentialsKey)
			if !ok {
				continue
			}
			var creds storedCredentials
			if err := json.Unmarshal([]byte(raw), &creds); err != nil {
				p.logger.Warn("保存済み認証情報の解析に失敗しました",
					slog.String("error", err.Error()),
				)
				store.RemoveItem(credentialsKey)
				continue
			}
			u := creds.User
			p.current = &u
			p.refreshToken = creds.RefreshToken
			p.mode = mode
			p.logger.Info("保存済み認証情報を復元しました",
				slog.String("uid", u.UID),
				slog.String("mode", string(mode)),
			)
			return
		}
	})
	return p.CurrentUser(), nil
}

// OnStateChange はサインイン/サインアウトのリスナーを登録する。
func (p *RestProvider) OnStateChange(fn func(*NativeUser)) func() {
	id := uuid.New().String()
	p.listenersMu.Lock()
	p.listeners[id] = fn
	p.listenersMu.Unlock()

	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

// notifyStateChange は登録済みリスナーへ状態変化を通知する。
// ブラウザSDKのイベントループ挙動に合わせ、呼び出し元とは非同期に行う。
func (p *RestProvider) notifyStateChange(user *NativeUser) {
	p.listenersMu.Lock()
	fns := make([]func(*NativeUser), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.Unlock()

	go func() {
		for _, fn := range fns {
			fn(user)
		}
	}()
}

// completeSignIn はトークンレスポンスからユーザーを確定し、
// プロフィールを取得して認証情報を永続化する。
func (p *RestProvider) completeSignIn(ctx context.Context, resp *tokenResponse, providerID string) (*NativeUser, error) {
	now := p.now()
	user := &NativeUser{
		UID:           resp.LocalID,
		Email:         resp.Email,
		DisplayName:   resp.DisplayName,
		PhotoURL:      resp.PhotoURL,
		EmailVerified: resp.EmailVerified,
		ProviderID:    providerID,
		LastLoginAt:   now,
	}

	p.mu.Lock()
	p.current = user
	p.refreshToken = resp.RefreshToken
	p.idToken = resp.IDToken
	p.idTokenExpiry = now.Add(parseExpiresIn(resp.ExpiresIn))
	p.persistCredentialsLocked()
	p.mu.Unlock()

	// プロフィールの詳細（作成日時、確認状態）はlookupで補完する。
	// 失敗してもサインイン自体は成立させる。
	if full, err := p.lookup(ctx, resp.IDToken); err == nil {
		p.mu.Lock()
		full.ProviderID = providerID
		full.LastLoginAt = now
		p.current = full
		p.persistCredentialsLocked()
		user = p.current
		p.mu.Unlock()
	} else {
		p.logger.Warn("プロフィールの取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	u := *user
	p.notifyStateChange(&u)
	return &u, nil
}

// lookup はIDトークンでユーザープロフィールを取得する。
func (p *RestProvider) lookup(ctx context.Context, idToken string) (*NativeUser, error) {
	var resp struct {
		Users []struct {
			LocalID          string `json:"localId"`
			Email            string `json:"email"`
			DisplayName      string `json:"displayName"`
			PhotoURL         string `json:"photoUrl"`
			EmailVerified    bool   `json:"emailVerified"`
			CreatedAt        string `json:"createdAt"`
			LastLoginAt      string `json:"lastLoginAt"`
			ProviderUserInfo []struct {
				ProviderID string `json:"providerId"`
			} `json:"providerUserInfo"`
		} `json:"users"`
	}
	err := p.post(ctx, p.identityURL("accounts:lookup"), map[string]any{
		"idToken": idToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, NewAuthError(model.AuthCodeUserNotFound, "user not found in lookup response")
	}

	u := resp.Users[0]
	user := &NativeUser{
		UID:           u.LocalID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		EmailVerified: u.EmailVerified,
		CreatedAt:     msToTime(u.CreatedAt),
		LastLoginAt:   msToTime(u.LastLoginAt),
	}
	if len(u.ProviderUserInfo) > 0 {
		user.ProviderID = u.ProviderUserInfo[0].ProviderID
	} else {
		user.ProviderID = "password"
	}
	return user, nil
}

// persistCredentialsLocked は現在の認証情報をアクティブな保存先に書き込み、
// 他の層からは削除する。呼び出し元がmuを保持していること。
func (p *RestProvider) persistCredentialsLocked() {
	if p.current == nil {
		return
	}
	creds := storedCredentials{
		User:         *p.current,
		RefreshToken: p.refreshToken,
	}
	b, err := json.Marshal(creds)
	if err != nil {
		p.logger.Error("認証情報のシリアライズに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	active := p.storeFor(p.mode)
	for _, mode := range []storage.PersistenceMode{storage.ModeLocal, storage.ModeSession, storage.ModeMemory} {
		s := p.storeFor(mode)
		if s == nil {
			continue
		}
		if s == active {
			s.SetItem(credentialsKey, string(b))
		} else {
			s.RemoveItem(credentialsKey)
		}
	}
}

// identityURL はIdP APIのエンドポイントURLを組み立てる。
func (p *RestProvider) identityURL(action string) string {
	return p.cfg.BaseURL + "/v1/" + action + "?key=" + url.QueryEscape(p.cfg.APIKey)
}

// post はJSONリクエストを送り、レスポンスをoutへデコードする。
// 非200レスポンスはIdPのエラーコードに応じたAuthErrorへ変換する。
func (p *RestProvider) post(ctx context.Context, requestURL string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return NewAuthError(model.AuthCodeNetworkRequestFailed, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewAuthError(model.AuthCodeNetworkRequestFailed, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return mapIdentityError(body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// tokenResponse はサインイン系エンドポイントのレスポンス。
type tokenResponse struct {
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresIn     string `json:"expiresIn"`
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
}

// identityErrorCodes はIdPのエラーコードからFirebase互換コードへの変換表。
var identityErrorCodes = map[string]string{
	"EMAIL_NOT_FOUND":                  model.AuthCodeUserNotFound,
	"USER_NOT_FOUND":                   model.AuthCodeUserNotFound,
	"INVALID_PASSWORD":                 model.AuthCodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":        model.AuthCodeInvalidCredential,
	"EMAIL_EXISTS":                     model.AuthCodeEmailAlreadyInUse,
	"WEAK_PASSWORD":                    model.AuthCodeWeakPassword,
	"USER_DISABLED":                    model.AuthCodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER":      model.AuthCodeTooManyRequests,
	"OPERATION_NOT_ALLOWED":            model.AuthCodeOperationNotAllowed,
	"INVALID_EMAIL":                    model.AuthCodeInvalidEmail,
	"TOKEN_EXPIRED":                    model.AuthCodeUserTokenExpired,
	"INVALID_REFRESH_TOKEN":            model.AuthCodeUserTokenExpired,
	"INVALID_ID_TOKEN":                 model.AuthCodeUserTokenExpired,
	"FEDERATED_USER_ID_ALREADY_LINKED": model.AuthCodeAccountExists,
}

// mapIdentityError はIdPのエラーレスポンスをAuthErrorへ変換する。
func mapIdentityError(body []byte) *AuthError {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return NewAuthError(model.AuthCodeNetworkRequestFailed, strings.TrimSpace(string(body)))
	}

	// "WEAK_PASSWORD : Password should be..." のように詳細が続く場合がある
	raw := errResp.Error.Message
	code := raw
	if i := strings.IndexAny(raw, " :"); i > 0 {
		code = raw[:i]
	}

	if mapped, ok := identityErrorCodes[code]; ok {
		return NewAuthError(mapped, raw)
	}
	return NewAuthError("auth/"+strings.ToLower(code), raw)
}

// parseExpiresIn はexpiresIn文字列（秒）をDurationへ変換する。
func parseExpiresIn(s string) time.Duration {
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}

// msToTime はミリ秒エポック文字列をtime.Timeへ変換する。
func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// compile-time interface check
var _ Provider = (*RestProvider)(nil)
