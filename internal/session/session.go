// Package session は認証セッションのライフサイクルを管理する。
//
// IdP・バックエンド・ローカルキャッシュの3者の状態を調停し、
// プロセス内で高々1つの「現在のセッション」を維持する。起動時は
// キャッシュから楽観的に復元し、バックグラウンドでバックエンドと
// 照合して確認済みへ昇格させる。照合失敗の種別に応じて、
// 状態維持（劣化モード）と強制サインアウトを使い分ける。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savlink/savlink-go/internal/authcache"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/identity"
	"github.com/savlink/savlink-go/internal/metrics"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

// persistencePrefKey は永続化モードの希望設定の保存キー。
const persistencePrefKey = "savlink_auth_persistence"

// 強制サインアウトの理由文字列。UIのトースト表示にそのまま使われる。
const (
	ReasonInvalidToken = "Invalid authentication token"
	ReasonAuthExpired  = "Authentication expired"
)

// Backend はセッション管理が必要とするバックエンドAPIの操作。
// api.Clientが実装する。
type Backend interface {
	// WhoAmI は現在のトークンで認証状態を確認する。
	// 5xxとネットワークエラーのみerrorを返す。
	WhoAmI(ctx context.Context, tokenOverride string) (*model.User, int, error)
	// Health は疎通確認を行う。
	Health(ctx context.Context) error
	// SetToken / ClearToken はベアラートークンを操作する。
	SetToken(token string)
	ClearToken()
}

// EventSink はセッションのライフサイクルイベントの通知先。
// UI層（CLI出力やエージェントのイベントログ）が実装する。
type EventSink interface {
	// SessionExpired は強制サインアウト時に理由付きで呼ばれる。
	SessionExpired(reason string)
	// RedirectCompleted はリダイレクトサインインの完了時に呼ばれる。
	RedirectCompleted(user *model.User)
}

// NopSink は何も通知しないEventSink実装。
type NopSink struct{}

func (NopSink) SessionExpired(string)         {}
func (NopSink) RedirectCompleted(*model.User) {}

// Manager は認証セッションの管理本体。
// すべての公開メソッドは複数goroutineから同時に呼び出せる。
type Manager struct {
	cfg      *config.Config
	provider identity.Provider
	backend  Backend
	cache    *authcache.Cache
	recorder metrics.Recorder
	sink     EventSink
	logger   *slog.Logger

	localStore *storage.SafeStore

	mu         sync.Mutex
	session    *model.Session
	syncStatus model.SyncStatus
	// generation はサインアウトのたびに増える世代カウンター。
	// サインアウト前に開始した非同期処理の結果が、クリア済みの
	// 状態へ遅れて書き戻されるのを防ぐ。
	generation uint64
	warmed     bool

	initOnce sync.Once
	initErr  error
	initDone bool

	listenersMu sync.Mutex
	listeners   map[string]func(*model.Session)

	verifier  *verifier
	loopCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// Options はManagerの依存関係。
type Options struct {
	Config   *config.Config
	Provider identity.Provider
	Backend  Backend
	Cache    *authcache.Cache
	Recorder metrics.Recorder
	Sink     EventSink
	Logger   *slog.Logger
	// LocalStore は永続化モード希望の保存先。
	LocalStore *storage.SafeStore
}

// New はManagerを生成する。バックグラウンド処理はEnsureInitializedまで開始されない。
func New(opts Options) *Manager {
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		cfg:        opts.Config,
		provider:   opts.Provider,
		backend:    opts.Backend,
		cache:      opts.Cache,
		recorder:   opts.Recorder,
		sink:       opts.Sink,
		logger:     opts.Logger,
		localStore: opts.LocalStore,
		listeners:  make(map[string]func(*model.Session)),
		now:        time.Now,
	}
	m.verifier = newVerifier(m)
	return m
}

// EnsureInitialized は初期化を一度だけ実行する。
// 複数goroutineから同時に呼ばれても副作用は一度だけ起こり、
// 全呼び出し元は同じ結果を受け取る。
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.initialize(ctx)
		m.mu.Lock()
		m.initDone = true
		m.mu.Unlock()
	})
	return m.initErr
}

// initialize は起動シーケンスを実行する。
func (m *Manager) initialize(ctx context.Context) error {
	m.loopCtx, m.cancel = context.WithCancel(context.Background())

	// 1. キャッシュから楽観的セッションを復元する
	if record := m.cache.Get(); record != nil && record.User != nil && record.Token != "" {
		m.backend.SetToken(record.Token)
		m.setSession(&model.Session{
			User:         record.User,
			Status:       model.StatusOptimistic,
			FromCache:    true,
			LastVerified: record.LastVerified,
			LastUpdated:  m.now(),
		})
		m.logger.Info("キャッシュからセッションを復元しました",
			slog.String("user_id", record.User.ID),
			slog.Bool("needs_refresh", record.TokenNeedsRefresh),
		)
	}

	// 2. 永続化モードの希望設定を適用する（local → session → memoryへフォールバック）
	m.applyPersistencePreference()

	// 3. IdPの保存済み認証情報の復元を待つ
	nativeUser, err := m.provider.WaitForFirstState(ctx)
	if err != nil {
		m.logger.Warn("IdPの初期状態の取得に失敗しました", slog.String("error", err.Error()))
	}

	// 4. IdPの状態変化を購読する
	m.provider.OnStateChange(m.handleProviderState)

	// 5. 未処理のリダイレクトサインインを消化する
	if redirectUser, err := m.provider.RedirectResult(ctx); err != nil {
		code := identity.CodeOf(err)
		m.logger.Warn("リダイレクトサインインの処理に失敗しました",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		if code == model.AuthCodeMissingInitialState {
			// 一時的な失敗の可能性があるため、少し待って現在のセッションを再確認する
			select {
			case <-time.After(m.cfg.PostLoginSyncDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			nativeUser = m.provider.CurrentUser()
		}
	} else if redirectUser != nil {
		result := m.handleSuccessfulAuth(ctx, redirectUser, "")
		if result.Success && result.Data != nil {
			m.sink.RedirectCompleted(result.Data.Session.User)
		}
		nativeUser = redirectUser
	}

	// 6. キャッシュがなくIdPだけがサインイン済みの場合はハンドシェイクで補完する
	if nativeUser != nil && m.CurrentSession() == nil {
		m.handleSuccessfulAuth(ctx, nativeUser, "")
	}

	// 7. バックグラウンド処理を開始する
	m.startLoops()

	return nil
}

// applyPersistencePreference は保存された永続化モードの希望を適用する。
// 希望モードが利用不可の場合はより弱い層へフォールバックする。
func (m *Manager) applyPersistencePreference() {
	preferred := storage.ModeLocal
	if m.localStore != nil {
		if v, ok := m.localStore.GetItem(persistencePrefKey); ok {
			preferred = storage.PersistenceMode(v)
		}
	}
	for _, mode := range []storage.PersistenceMode{preferred, storage.ModeLocal, storage.ModeSession, storage.ModeMemory} {
		if err := m.provider.SetPersistence(mode); err == nil {
			if mode != preferred {
				m.logger.Warn("希望の永続化モードを利用できないためフォールバックします",
					slog.String("preferred", string(preferred)),
					slog.String("actual", string(mode)),
				)
			}
			return
		}
	}
}

// startLoops はバックグラウンドの照合・ウォームアップ・トークン再取得を開始する。
func (m *Manager) startLoops() {
	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.verifier.run(m.loopCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.runWarmup(m.loopCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.runTokenRefresh(m.loopCtx)
	}()
}

// Shutdown はバックグラウンド処理を停止し、終了を待つ。
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// handleProviderState はIdPのサインイン状態変化を処理する。
func (m *Manager) handleProviderState(user *identity.NativeUser) {
	if user == nil {
		// IdP側のサインアウト。Logout/forceLogoutが先に状態を
		// クリアしているのが通常で、ここでは冪等に扱う。
		m.mu.Lock()
		signedIn := m.session != nil
		m.mu.Unlock()
		if signedIn {
			m.logger.Info("IdPのサインアウトを検知しました")
			m.clearSessionState()
			m.notifyListeners(nil)
		}
		return
	}

	// 既に同一ユーザーのセッションがある場合は何もしない
	current := m.CurrentSession()
	if current != nil && current.ProviderUID == user.UID {
		return
	}
	m.handleSuccessfulAuth(context.Background(), user, "")
}

// CurrentSession は現在のセッションのコピーを返す。未ログイン時はnil。
func (m *Manager) CurrentSession() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// CachedUser はキャッシュ済みユーザーを返す。キャッシュがない場合はnil。
func (m *Manager) CachedUser() *model.User {
	record := m.cache.Get()
	if record == nil {
		return nil
	}
	return record.User
}

// ProviderUser はIdPのネイティブユーザーを返す。
func (m *Manager) ProviderUser() *identity.NativeUser {
	return m.provider.CurrentUser()
}

// IsAuthenticated は現在サインイン中かどうかを返す。
func (m *Manager) IsAuthenticated() bool {
	return m.CurrentSession() != nil
}

// IsCacheValid はキャッシュにユーザーとトークンの両方があるかを返す。
func (m *Manager) IsCacheValid() bool {
	return m.cache.IsValid()
}

// IsBackendSynced はセッションがバックエンド確認済みかどうかを返す。
func (m *Manager) IsBackendSynced() bool {
	return m.CurrentSession().Confirmed()
}

// SyncStatus はバックエンド同期の状況を返す。
func (m *Manager) SyncStatus() model.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncStatus
}

// IDToken はIdPのベアラートークンを返す。forceRefreshで再取得を強制する。
func (m *Manager) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	return m.provider.IDToken(ctx, forceRefresh)
}

// CacheInfo はキャッシュの状態ビューを返す。
func (m *Manager) CacheInfo() authcache.Info {
	return m.cache.Info()
}

// ClearCache はキャッシュのみを破棄する。セッションは維持される。
func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// DebugState はデバッグ用の状態スナップショットを返す。
func (m *Manager) DebugState() map[string]any {
	m.mu.Lock()
	session := m.session
	syncStatus := m.syncStatus
	generation := m.generation
	initDone := m.initDone
	m.mu.Unlock()

	state := map[string]any{
		"initialized":   initDone,
		"authenticated": session != nil,
		"synced":        syncStatus.Synced,
		"sync_reason":   syncStatus.Reason,
		"generation":    generation,
		"cache":         m.cache.Info(),
	}
	if session != nil {
		state["status"] = session.Status.String()
		state["user_id"] = session.User.ID
		state["from_cache"] = session.FromCache
		state["last_verified"] = session.LastVerified
	}
	return state
}

// OnSessionChange はセッション変化のリスナーを登録し、解除関数を返す。
// 初期化完了後に登録した場合は、現在の状態で直ちに一度呼ばれる。
func (m *Manager) OnSessionChange(fn func(*model.Session)) func() {
	id := uuid.New().String()
	m.listenersMu.Lock()
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	m.mu.Lock()
	replay := m.initDone
	m.mu.Unlock()
	if replay {
		fn(m.CurrentSession())
	}

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// notifyListeners は登録済みリスナーへ現在のセッションを通知する。
func (m *Manager) notifyListeners(session *model.Session) {
	m.listenersMu.Lock()
	fns := make([]func(*model.Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(session)
	}
}

// setSession はセッションを差し替え、メトリクスを更新する。
// リスナー通知は行わない（呼び出し元の責務）。
func (m *Manager) setSession(session *model.Session) {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	status := model.StatusSignedOut
	if session != nil {
		status = session.Status
	}
	m.recorder.SetSessionStatus(status.String())
}

// currentGeneration は現在の世代カウンターを返す。
func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// generationCurrent は非同期処理開始時の世代がまだ有効かを返す。
func (m *Manager) generationCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

// clearSessionState はセッション・キャッシュ・トークンを破棄し、
// 世代カウンターを進める。リスナー通知は行わない。
func (m *Manager) clearSessionState() {
	m.mu.Lock()
	m.session = nil
	m.syncStatus = model.SyncStatus{}
	m.generation++
	m.warmed = false
	m.mu.Unlock()

	m.cache.Clear()
	m.backend.ClearToken()
	m.recorder.SetSessionStatus(model.StatusSignedOut.String())
}
