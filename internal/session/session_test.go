package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/savlink/savlink-go/internal/authcache"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/identity"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func testConfig() *config.Config {
	return &config.Config{
		APIBaseURL:           "http://backend.test",
		VerifyInterval:       time.Hour,
		VerifyTimeout:        time.Second,
		TokenRefreshInterval: time.Hour,
		PostLoginSyncDelay:   5 * time.Millisecond,
		WarmupTimeout:        time.Second,
		WarmupInterval:       time.Hour,
		Env:                  "development",
	}
}

func testNativeUser() *identity.NativeUser {
	return &identity.NativeUser{
		UID:         "uid-1",
		Email:       "user@example.com",
		DisplayName: "テストユーザー",
		ProviderID:  "password",
	}
}

func backendUser() *model.User {
	return &model.User{
		ID:    "uid-1",
		Email: "user@example.com",
		Name:  "テストユーザー",
	}
}

// mockProvider はfnフィールドで挙動を差し替えられるProviderモック。
type mockProvider struct {
	mu          sync.Mutex
	persistence storage.PersistenceMode
	current     *identity.NativeUser
	listener    func(*identity.NativeUser)

	waitCalls    atomic.Int32
	signOutCalls atomic.Int32

	setPersistenceFn func(mode storage.PersistenceMode) error
	signInFn         func(ctx context.Context, email, password string) (*identity.NativeUser, error)
	signUpFn         func(ctx context.Context, email, password string) (*identity.NativeUser, error)
	idTokenFn        func(ctx context.Context, forceRefresh bool) (string, error)
	reloadFn         func(ctx context.Context) error
	popupFn          func(ctx context.Context) (*identity.NativeUser, error)
	redirectFn       func(ctx context.Context) (string, error)
	redirectResultFn func(ctx context.Context) (*identity.NativeUser, error)
	prefersRedirect  bool
}

func (p *mockProvider) SetPersistence(mode storage.PersistenceMode) error {
	if p.setPersistenceFn != nil {
		if err := p.setPersistenceFn(mode); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.persistence = mode
	p.mu.Unlock()
	return nil
}

func (p *mockProvider) Persistence() storage.PersistenceMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistence
}

func (p *mockProvider) setCurrent(u *identity.NativeUser) {
	p.mu.Lock()
	p.current = u
	p.mu.Unlock()
}

func (p *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.NativeUser, error) {
	if p.signInFn != nil {
		u, err := p.signInFn(ctx, email, password)
		if err != nil {
			return nil, err
		}
		p.setCurrent(u)
		return u, nil
	}
	u := testNativeUser()
	p.setCurrent(u)
	return u, nil
}

func (p *mockProvider) SignUp(ctx context.Context, email, password string) (*identity.NativeUser, error) {
	if p.signUpFn != nil {
		u, err := p.signUpFn(ctx, email, password)
		if err != nil {
			return nil, err
		}
		p.setCurrent(u)
		return u, nil
	}
	u := testNativeUser()
	p.setCurrent(u)
	return u, nil
}

func (p *mockProvider) UpdateDisplayName(ctx context.Context, name string) error {
	p.mu.Lock()
	if p.current != nil {
		p.current.DisplayName = name
	}
	p.mu.Unlock()
	return nil
}

func (p *mockProvider) SendEmailVerification(ctx context.Context) error { return nil }

func (p *mockProvider) SendPasswordReset(ctx context.Context, _ string) error { return nil }

func (p *mockProvider) SignOut(ctx context.Context) error {
	p.signOutCalls.Add(1)
	p.setCurrent(nil)
	return nil
}

func (p *mockProvider) CurrentUser() *identity.NativeUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

func (p *mockProvider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	if p.idTokenFn != nil {
		return p.idTokenFn(ctx, forceRefresh)
	}
	return "token-test", nil
}

func (p *mockProvider) Reload(ctx context.Context) error {
	if p.reloadFn != nil {
		return p.reloadFn(ctx)
	}
	return nil
}

func (p *mockProvider) WaitForFirstState(ctx context.Context) (*identity.NativeUser, error) {
	p.waitCalls.Add(1)
	return p.CurrentUser(), nil
}

func (p *mockProvider) OnStateChange(fn func(*identity.NativeUser)) func() {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
	return func() {}
}

func (p *mockProvider) PrefersRedirect() bool { return p.prefersRedirect }

func (p *mockProvider) SignInWithGooglePopup(ctx context.Context) (*identity.NativeUser, error) {
	if p.popupFn != nil {
		u, err := p.popupFn(ctx)
		if err != nil {
			return nil, err
		}
		p.setCurrent(u)
		return u, nil
	}
	u := testNativeUser()
	u.ProviderID = "google.com"
	p.setCurrent(u)
	return u, nil
}

func (p *mockProvider) SignInWithGoogleRedirect(ctx context.Context) (string, error) {
	if p.redirectFn != nil {
		return p.redirectFn(ctx)
	}
	return "https://accounts.example/auth", nil
}

func (p *mockProvider) RedirectResult(ctx context.Context) (*identity.NativeUser, error) {
	if p.redirectResultFn != nil {
		return p.redirectResultFn(ctx)
	}
	return nil, nil
}

var _ identity.Provider = (*mockProvider)(nil)

// mockBackend はfnフィールドで挙動を差し替えられるBackendモック。
// authcache.TokenSinkとしても使われる。
type mockBackend struct {
	mu      sync.Mutex
	token   string
	cleared int

	whoAmIFn func(ctx context.Context, token string) (*model.User, int, error)
	healthFn func(ctx context.Context) error
}

func (b *mockBackend) WhoAmI(ctx context.Context, tokenOverride string) (*model.User, int, error) {
	if b.whoAmIFn != nil {
		return b.whoAmIFn(ctx, tokenOverride)
	}
	return backendUser(), 200, nil
}

func (b *mockBackend) Health(ctx context.Context) error {
	if b.healthFn != nil {
		return b.healthFn(ctx)
	}
	return nil
}

func (b *mockBackend) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

func (b *mockBackend) ClearToken() {
	b.mu.Lock()
	b.token = ""
	b.cleared++
	b.mu.Unlock()
}

func (b *mockBackend) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

var _ Backend = (*mockBackend)(nil)

// recordingSink はライフサイクルイベントを記録するEventSink。
type recordingSink struct {
	mu        sync.Mutex
	expired   []string
	redirects []*model.User
}

func (s *recordingSink) SessionExpired(reason string) {
	s.mu.Lock()
	s.expired = append(s.expired, reason)
	s.mu.Unlock()
}

func (s *recordingSink) RedirectCompleted(user *model.User) {
	s.mu.Lock()
	s.redirects = append(s.redirects, user)
	s.mu.Unlock()
}

func (s *recordingSink) Expired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.expired...)
}

type testEnv struct {
	m        *Manager
	provider *mockProvider
	backend  *mockBackend
	sink     *recordingSink
	cache    *authcache.Cache
	local    *storage.SafeStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	provider := &mockProvider{}
	backend := &mockBackend{}
	sink := &recordingSink{}
	local := storage.NewSafeStore("local", storage.NewMemoryStore(), logger)
	cache := authcache.New(
		storage.NewSafeStore("cache", storage.NewMemoryStore(), logger),
		backend, logger,
	)

	m := New(Options{
		Config:     testConfig(),
		Provider:   provider,
		Backend:    backend,
		Cache:      cache,
		Sink:       sink,
		Logger:     logger,
		LocalStore: local,
	})
	return &testEnv{m: m, provider: provider, backend: backend, sink: sink, cache: cache, local: local}
}

func (e *testEnv) init(t *testing.T) {
	t.Helper()
	if err := e.m.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized がエラーを返した: %v", err)
	}
	t.Cleanup(e.m.Shutdown)
}

// eventually は条件が成立するまでポーリングする。
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_EnsureInitialized_Idempotent(t *testing.T) {
	e := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.m.EnsureInitialized(context.Background())
		}()
	}
	wg.Wait()
	t.Cleanup(e.m.Shutdown)

	if got := e.provider.waitCalls.Load(); got != 1 {
		t.Errorf("WaitForFirstState の呼び出し回数 = %d, want 1", got)
	}
}

func TestManager_Initialize_RestoresFromCache(t *testing.T) {
	e := newTestEnv(t)

	// バックエンドは停止中。劣化モードで楽観的セッションが維持される。
	e.backend.whoAmIFn = func(ctx context.Context, token string) (*model.User, int, error) {
		return nil, 0, model.NewTransportError("connection refused")
	}
	e.provider.idTokenFn = func(ctx context.Context, force bool) (string, error) {
		return "cached-token", nil
	}
	e.provider.setCurrent(testNativeUser())
	e.cache.Set(backendUser(), "cached-token", true, time.Now())

	e.init(t)

	session := e.m.CurrentSession()
	if session == nil {
		t.Fatal("キャッシュからセッションが復元されなかった")
	}
	if session.Status != model.StatusOptimistic {
		t.Errorf("Status = %v, want %v", session.Status, model.StatusOptimistic)
	}
	if !session.FromCache {
		t.Error("FromCache = false, want true")
	}
	if e.backend.Token() != "cached-token" {
		t.Errorf("バックエンドのトークン = %q, want %q", e.backend.Token(), "cached-token")
	}
}

func TestManager_Initialize_HandshakeWithoutCache(t *testing.T) {
	e := newTestEnv(t)

	// キャッシュなし、IdPのみサインイン済み。ハンドシェイクで補完される。
	e.provider.setCurrent(testNativeUser())

	e.init(t)

	session := e.m.CurrentSession()
	if session == nil {
		t.Fatal("IdPの状態からセッションが確立されなかった")
	}
	if session.ProviderUID != "uid-1" {
		t.Errorf("ProviderUID = %q, want uid-1", session.ProviderUID)
	}
}

func TestManager_Login_RememberMe(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	result := e.m.Login(context.Background(), "user@example.com", "pw", true)
	if !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}
	if result.Data == nil || result.Data.Token != "token-test" {
		t.Fatalf("Data = %+v, want トークン付き", result.Data)
	}
	if result.Data.Session.Status != model.StatusOptimistic {
		t.Errorf("直後のセッション Status = %v, want %v", result.Data.Session.Status, model.StatusOptimistic)
	}

	// rememberMe=true はlocal層に保存される。
	if e.provider.Persistence() != storage.ModeLocal {
		t.Errorf("永続化モード = %v, want %v", e.provider.Persistence(), storage.ModeLocal)
	}
	if v, ok := e.local.GetItem("savlink_auth_persistence"); !ok || v != "local" {
		t.Errorf("保存された希望モード = %q, want local", v)
	}

	// キャッシュとベアラートークンが設定される。
	if !e.m.IsCacheValid() {
		t.Error("ログイン後にキャッシュが無効")
	}
	if e.backend.Token() != "token-test" {
		t.Errorf("バックエンドのトークン = %q, want token-test", e.backend.Token())
	}

	// 遅延付きのバックエンド同期で確認済みへ昇格する。
	eventually(t, 2*time.Second, func() bool {
		return e.m.CurrentSession().Confirmed()
	}, "セッションが確認済みへ昇格しなかった")
	if !e.m.IsBackendSynced() {
		t.Error("IsBackendSynced = false, want true")
	}
}

func TestManager_Login_SessionOnly(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	result := e.m.Login(context.Background(), "user@example.com", "pw", false)
	if !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}
	if e.provider.Persistence() != storage.ModeSession {
		t.Errorf("永続化モード = %v, want %v", e.provider.Persistence(), storage.ModeSession)
	}
	if v, _ := e.local.GetItem("savlink_auth_persistence"); v != "session" {
		t.Errorf("保存された希望モード = %q, want session", v)
	}
}

func TestManager_Login_WrongPassword(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	e.provider.signInFn = func(ctx context.Context, email, password string) (*identity.NativeUser, error) {
		return nil, identity.NewAuthError(model.AuthCodeWrongPassword, "INVALID_PASSWORD")
	}

	result := e.m.Login(context.Background(), "user@example.com", "bad", true)
	if result.Success {
		t.Fatal("誤ったパスワードで Login が成功した")
	}
	if result.Err == nil || result.Err.Code != model.AuthCodeWrongPassword {
		t.Errorf("Err = %+v, want %s", result.Err, model.AuthCodeWrongPassword)
	}
	if result.Err.Message != "パスワードが正しくありません。" {
		t.Errorf("Message = %q", result.Err.Message)
	}
	if e.m.IsAuthenticated() {
		t.Error("失敗したログイン後にセッションが存在する")
	}
}

func TestManager_Register(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	result := e.m.Register(context.Background(), "new@example.com", "pw123456", "新規ユーザー")
	if !result.Success {
		t.Fatalf("Register が失敗した: %+v", result)
	}
	if result.Message != "アカウントを作成しました。確認メールを送信しました。" {
		t.Errorf("Message = %q", result.Message)
	}
	// 登録は常にlocal層を使う。
	if e.provider.Persistence() != storage.ModeLocal {
		t.Errorf("永続化モード = %v, want %v", e.provider.Persistence(), storage.ModeLocal)
	}
}

func TestManager_Verify_Unauthorized_ForcesLogout(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	// バックエンドがトークンを拒否するようになった。
	e.backend.whoAmIFn = func(ctx context.Context, token string) (*model.User, int, error) {
		return nil, 401, nil
	}

	e.m.VerifyNow(context.Background())

	if e.m.IsAuthenticated() {
		t.Error("401応答後もセッションが残っている")
	}
	if e.m.IsCacheValid() {
		t.Error("401応答後もキャッシュが残っている")
	}
	if e.backend.Token() != "" {
		t.Error("401応答後もベアラートークンが残っている")
	}
	expired := e.sink.Expired()
	if len(expired) != 1 || expired[0] != ReasonInvalidToken {
		t.Errorf("SessionExpired の理由 = %v, want [%q]", expired, ReasonInvalidToken)
	}
}

func TestManager_Verify_ServerError_KeepsState(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	e.backend.whoAmIFn = func(ctx context.Context, token string) (*model.User, int, error) {
		return nil, 503, &StatusErrorStub{}
	}

	status := e.m.VerifyNow(context.Background())

	// 5xxではローカル状態を維持する（オフライン耐性）。
	if !e.m.IsAuthenticated() {
		t.Error("5xx応答でセッションが破棄された")
	}
	if status.Synced {
		t.Error("5xx応答で Synced = true")
	}
	if len(e.sink.Expired()) != 0 {
		t.Errorf("5xx応答で SessionExpired が呼ばれた: %v", e.sink.Expired())
	}
}

// StatusErrorStub は5xx相当のバックエンドエラーを表すスタブ。
type StatusErrorStub struct{}

func (e *StatusErrorStub) Error() string { return "api error 503" }

func TestManager_Verify_ExpiredToken_ForcesLogout(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	// IdPがトークンの失効を報告するようになった。
	e.provider.idTokenFn = func(ctx context.Context, force bool) (string, error) {
		return "", identity.NewAuthError(model.AuthCodeUserTokenExpired, "TOKEN_EXPIRED")
	}

	e.m.VerifyNow(context.Background())

	if e.m.IsAuthenticated() {
		t.Error("トークン失効後もセッションが残っている")
	}
	expired := e.sink.Expired()
	if len(expired) != 1 || expired[0] != ReasonAuthExpired {
		t.Errorf("SessionExpired の理由 = %v, want [%q]", expired, ReasonAuthExpired)
	}
}

func TestManager_LoginWithGoogle_PopupClosed(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	e.provider.popupFn = func(ctx context.Context) (*identity.NativeUser, error) {
		return nil, identity.NewAuthError(model.AuthCodePopupClosedByUser, "")
	}

	result := e.m.LoginWithGoogle(context.Background(), false)
	if !result.Cancelled {
		t.Errorf("result = %+v, want Cancelled", result)
	}
	if e.m.IsAuthenticated() {
		t.Error("キャンセル後にセッションが存在する")
	}
	if len(e.sink.Expired()) != 0 {
		t.Error("キャンセルで SessionExpired が呼ばれた")
	}
}

func TestManager_LoginWithGoogle_PopupBlockedFallsBackToRedirect(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	e.provider.popupFn = func(ctx context.Context) (*identity.NativeUser, error) {
		return nil, identity.NewAuthError(model.AuthCodePopupBlocked, "")
	}
	e.provider.redirectFn = func(ctx context.Context) (string, error) {
		return "https://accounts.example/auth?state=abc", nil
	}

	result := e.m.LoginWithGoogle(context.Background(), false)
	if !result.Pending {
		t.Fatalf("result = %+v, want Pending", result)
	}
}

func TestManager_LoginWithGoogle_ForceRedirect(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	result := e.m.LoginWithGoogle(context.Background(), true)
	if !result.Pending {
		t.Fatalf("result = %+v, want Pending", result)
	}
}

func TestManager_Initialize_RedirectResult(t *testing.T) {
	e := newTestEnv(t)

	e.provider.redirectResultFn = func(ctx context.Context) (*identity.NativeUser, error) {
		u := testNativeUser()
		u.ProviderID = "google.com"
		return u, nil
	}

	e.init(t)

	if !e.m.IsAuthenticated() {
		t.Fatal("リダイレクト完了からセッションが確立されなかった")
	}
	e.sink.mu.Lock()
	redirects := len(e.sink.redirects)
	e.sink.mu.Unlock()
	if redirects != 1 {
		t.Errorf("RedirectCompleted の呼び出し回数 = %d, want 1", redirects)
	}
}

func TestManager_Logout(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	var notified []*model.Session
	var mu sync.Mutex
	unsubscribe := e.m.OnSessionChange(func(s *model.Session) {
		mu.Lock()
		notified = append(notified, s)
		mu.Unlock()
	})
	defer unsubscribe()

	result := e.m.Logout(context.Background())
	if !result.Success {
		t.Fatalf("Logout が失敗した: %+v", result)
	}

	if e.m.IsAuthenticated() {
		t.Error("Logout 後もセッションが残っている")
	}
	if e.m.IsCacheValid() {
		t.Error("Logout 後もキャッシュが残っている")
	}
	if _, ok := e.local.GetItem("savlink_auth_persistence"); ok {
		t.Error("Logout 後も希望モードが残っている")
	}
	if e.provider.signOutCalls.Load() != 1 {
		t.Errorf("SignOut の呼び出し回数 = %d, want 1", e.provider.signOutCalls.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) == 0 || notified[len(notified)-1] != nil {
		t.Errorf("最後の通知 = %+v, want nil", notified)
	}
}

func TestManager_ForceLogout_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	e.m.forceLogout(context.Background(), ReasonInvalidToken)
	e.m.forceLogout(context.Background(), ReasonInvalidToken)

	if got := len(e.sink.Expired()); got != 1 {
		t.Errorf("SessionExpired の呼び出し回数 = %d, want 1", got)
	}
}

func TestManager_OnSessionChange_Replay(t *testing.T) {
	e := newTestEnv(t)
	e.provider.setCurrent(testNativeUser())
	e.init(t)

	// 初期化完了後の登録は現在状態で直ちに一度呼ばれる。
	var calls atomic.Int32
	var got *model.Session
	var mu sync.Mutex
	unsubscribe := e.m.OnSessionChange(func(s *model.Session) {
		calls.Add(1)
		mu.Lock()
		got = s
		mu.Unlock()
	})
	defer unsubscribe()

	if calls.Load() != 1 {
		t.Fatalf("登録直後の呼び出し回数 = %d, want 1", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Error("再生された状態が nil")
	}
}

func TestManager_OnSessionChange_Unsubscribe(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	var calls atomic.Int32
	unsubscribe := e.m.OnSessionChange(func(*model.Session) { calls.Add(1) })
	before := calls.Load()
	unsubscribe()

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}
	if calls.Load() != before {
		t.Error("解除後もリスナーが呼ばれた")
	}
}

func TestManager_BackendSync_GenerationGuard(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}
	staleGen := e.m.currentGeneration()

	if result := e.m.Logout(context.Background()); !result.Success {
		t.Fatalf("Logout が失敗した: %+v", result)
	}

	// サインアウト前の世代による応答はクリア済み状態へ書き戻されない。
	e.m.backendSync(context.Background(), staleGen, "stale-token")

	if e.m.IsAuthenticated() {
		t.Error("古い世代の同期結果がセッションを復活させた")
	}
}

func TestManager_RefreshToken_ExpiredAfterReload_ForcesLogout(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	var reloads atomic.Int32
	e.provider.reloadFn = func(ctx context.Context) error {
		reloads.Add(1)
		return nil
	}
	e.provider.idTokenFn = func(ctx context.Context, force bool) (string, error) {
		return "", identity.NewAuthError(model.AuthCodeUserTokenExpired, "TOKEN_EXPIRED")
	}

	e.m.refreshToken(context.Background())

	// リロード+再取得を一度だけ試みたうえで強制サインアウトする。
	if reloads.Load() != 1 {
		t.Errorf("Reload の呼び出し回数 = %d, want 1", reloads.Load())
	}
	if e.m.IsAuthenticated() {
		t.Error("失効したトークンでセッションが残っている")
	}
	expired := e.sink.Expired()
	if len(expired) != 1 || expired[0] != ReasonAuthExpired {
		t.Errorf("SessionExpired の理由 = %v, want [%q]", expired, ReasonAuthExpired)
	}
}

func TestManager_RefreshToken_RecoversAfterReload(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}
	eventually(t, 2*time.Second, func() bool {
		return e.m.CurrentSession().Confirmed()
	}, "セッションが確認済みへ昇格しなかった")

	var calls atomic.Int32
	e.provider.idTokenFn = func(ctx context.Context, force bool) (string, error) {
		if calls.Add(1) == 1 {
			return "", identity.NewAuthError(model.AuthCodeUserTokenExpired, "TOKEN_EXPIRED")
		}
		return "token-new", nil
	}

	e.m.refreshToken(context.Background())

	if !e.m.IsAuthenticated() {
		t.Fatal("リロード後の再取得が成功したのにサインアウトされた")
	}
	rec := e.cache.Get()
	if rec == nil || rec.Token != "token-new" {
		t.Errorf("キャッシュのトークン = %+v, want token-new", rec)
	}
}

func TestManager_ProviderSignOut_ClearsSession(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	if result := e.m.Login(context.Background(), "user@example.com", "pw", true); !result.Success {
		t.Fatalf("Login が失敗した: %+v", result)
	}

	// IdP側のサインアウト通知。
	e.m.handleProviderState(nil)

	if e.m.IsAuthenticated() {
		t.Error("IdPのサインアウト通知後もセッションが残っている")
	}
}

func TestManager_DebugState(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	state := e.m.DebugState()
	if state["initialized"] != true {
		t.Error("initialized = false, want true")
	}
	if state["authenticated"] != false {
		t.Error("authenticated = true, want false")
	}

	// JSONにシリアライズ可能であること（エージェントの/sessionが返す）。
	if _, err := json.Marshal(state); err != nil {
		t.Errorf("DebugState のシリアライズに失敗した: %v", err)
	}
}

func TestManager_ApplyPersistencePreference_Fallback(t *testing.T) {
	e := newTestEnv(t)

	// 希望はlocalだが利用不可。session層へフォールバックする。
	e.local.SetItem("savlink_auth_persistence", "local")
	e.provider.setPersistenceFn = func(mode storage.PersistenceMode) error {
		if mode == storage.ModeLocal {
			return identity.NewAuthError(model.AuthCodeWebStorageUnsupported, "unavailable")
		}
		return nil
	}

	e.init(t)

	if e.provider.Persistence() != storage.ModeSession {
		t.Errorf("永続化モード = %v, want %v", e.provider.Persistence(), storage.ModeSession)
	}
}
