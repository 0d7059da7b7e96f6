package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/savlink/savlink-go/internal/identity"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

// Register はアカウントを作成してサインインする。
// 表示名の設定と確認メールの送信は失敗してもサインイン自体は成立させる。
func (m *Manager) Register(ctx context.Context, email, password, name string) model.AuthResult {
	m.setPersistencePreference(storage.ModeLocal)

	user, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		return m.resultFromProviderError(err)
	}

	if name != "" {
		if err := m.provider.UpdateDisplayName(ctx, name); err != nil {
			m.logger.Warn("表示名の設定に失敗しました", slog.String("error", err.Error()))
		} else {
			user.DisplayName = name
		}
	}
	if err := m.provider.SendEmailVerification(ctx); err != nil {
		m.logger.Warn("確認メールの送信に失敗しました", slog.String("error", err.Error()))
	}

	return m.handleSuccessfulAuth(ctx, user, "アカウントを作成しました。確認メールを送信しました。")
}

// Login はメール+パスワードでサインインする。
// rememberMeがtrueの場合は認証情報をプロセスをまたいで保持する。
func (m *Manager) Login(ctx context.Context, email, password string, rememberMe bool) model.AuthResult {
	mode := storage.ModeSession
	if rememberMe {
		mode = storage.ModeLocal
	}
	m.setPersistencePreference(mode)

	user, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return m.resultFromProviderError(err)
	}
	return m.handleSuccessfulAuth(ctx, user, "ログインしました。")
}

// LoginWithGoogle はGoogleアカウントでサインインする。
// 環境に応じてポップアップ方式（ブラウザ起動+待受）とリダイレクト方式を
// 使い分ける。リダイレクト方式ではPending=trueの結果を返し、完了は
// 次回のEnsureInitializedで処理される。
func (m *Manager) LoginWithGoogle(ctx context.Context, forceRedirect bool) model.AuthResult {
	if forceRedirect || m.provider.PrefersRedirect() {
		return m.startGoogleRedirect(ctx)
	}

	user, err := m.provider.SignInWithGooglePopup(ctx)
	if err != nil {
		switch identity.CodeOf(err) {
		case model.AuthCodePopupClosedByUser:
			return model.CancelledResult()
		case model.AuthCodePopupBlocked, model.AuthCodeCancelledPopupRequest:
			// ポップアップが使えない環境。リダイレクト方式で一度だけ再試行する。
			m.logger.Info("ポップアップ方式が利用できないためリダイレクト方式へ切り替えます")
			return m.startGoogleRedirect(ctx)
		default:
			return m.resultFromProviderError(err)
		}
	}
	return m.handleSuccessfulAuth(ctx, user, "ログインしました。")
}

// startGoogleRedirect はリダイレクト方式のGoogleサインインを開始する。
func (m *Manager) startGoogleRedirect(ctx context.Context) model.AuthResult {
	authURL, err := m.provider.SignInWithGoogleRedirect(ctx)
	if err != nil {
		return m.resultFromProviderError(err)
	}
	return model.PendingResult("ブラウザで次のURLを開いてサインインしてください: " + authURL)
}

// Logout はサインアウトする。IdP側の失敗に関わらずローカル状態は破棄する。
func (m *Manager) Logout(ctx context.Context) model.AuthResult {
	err := m.provider.SignOut(ctx)

	m.clearSessionState()
	if m.localStore != nil {
		m.localStore.RemoveItem(persistencePrefKey)
	}
	m.notifyListeners(nil)

	if err != nil {
		m.logger.Error("IdPのサインアウトに失敗しました", slog.String("error", err.Error()))
		return model.ErrResult(model.NewLogoutFailedError())
	}
	m.logger.Info("サインアウトしました")
	return model.OKResult(nil, "サインアウトしました。")
}

// ResetPassword はパスワード再設定メールを送信する。
func (m *Manager) ResetPassword(ctx context.Context, email string) model.AuthResult {
	if err := m.provider.SendPasswordReset(ctx, email); err != nil {
		return m.resultFromProviderError(err)
	}
	return model.OKResult(nil, "パスワード再設定メールを送信しました。")
}

// ResendVerificationEmail は確認メールを再送信する。
func (m *Manager) ResendVerificationEmail(ctx context.Context) model.AuthResult {
	if m.provider.CurrentUser() == nil {
		return model.ErrResult(model.NewNotAuthenticatedError())
	}
	if err := m.provider.SendEmailVerification(ctx); err != nil {
		return m.resultFromProviderError(err)
	}
	return model.OKResult(nil, "確認メールを再送信しました。")
}

// setPersistencePreference は永続化モードを適用し、希望として保存する。
func (m *Manager) setPersistencePreference(mode storage.PersistenceMode) {
	if err := m.provider.SetPersistence(mode); err != nil {
		m.logger.Warn("永続化モードの設定に失敗しました",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
		return
	}
	if m.localStore != nil {
		m.localStore.SetItem(persistencePrefKey, string(mode))
	}
}

// handleSuccessfulAuth はサインイン成功後の共通ハンドシェイクを実行する。
// 楽観的セッションを直ちに確立してリスナーへ通知し、バックエンドとの
// 照合は遅延付きのバックグラウンド処理として切り離す。
func (m *Manager) handleSuccessfulAuth(ctx context.Context, native *identity.NativeUser, message string) model.AuthResult {
	token, err := m.provider.IDToken(ctx, false)
	if err != nil {
		return m.resultFromProviderError(err)
	}

	user := userFromNative(native)
	m.cache.Set(user, token, false, time.Time{})

	session := &model.Session{
		User:        user,
		Status:      model.StatusOptimistic,
		ProviderUID: native.UID,
		LastUpdated: m.now(),
	}
	m.setSession(session)
	m.notifyListeners(m.CurrentSession())

	m.logger.Info("サインインしました",
		slog.String("user_id", user.ID),
		slog.String("provider", user.AuthProvider),
	)

	// バックエンド照合は切り離して実行する。失敗してもセッションは
	// 楽観的状態のまま維持される。
	gen := m.currentGeneration()
	loopCtx := m.loopCtx
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(m.cfg.PostLoginSyncDelay):
		case <-loopCtx.Done():
			return
		}
		m.warmBackendOnce(loopCtx)
		m.backendSync(loopCtx, gen, token)
	}()

	s := *session
	return model.OKResult(&model.AuthData{Session: &s, Token: token}, message)
}

// warmBackendOnce はセッションごとに一度だけバックエンドを温める。
func (m *Manager) warmBackendOnce(ctx context.Context) {
	m.mu.Lock()
	warmed := m.warmed
	m.warmed = true
	m.mu.Unlock()
	if warmed {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.WarmupTimeout)
	defer cancel()
	if err := m.backend.Health(pingCtx); err != nil {
		m.logger.Debug("ウォームアップに失敗しました", slog.String("error", err.Error()))
	}
}

// backendSync は/auth/meでセッションを確認済みへ昇格させる。
// 失敗はログに残すだけで、楽観的セッションはそのまま維持される。
func (m *Manager) backendSync(ctx context.Context, gen uint64, token string) {
	syncCtx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()

	user, status, err := m.backend.WhoAmI(syncCtx, token)
	if !m.generationCurrent(gen) {
		// サインアウト後に届いた応答は破棄する
		return
	}

	switch {
	case err != nil:
		m.setSyncStatus(false, err.Error())
		m.logger.Warn("バックエンド同期に失敗しました", slog.String("error", err.Error()))
	case status == 200 && user != nil:
		m.confirmSession(user, token)
		m.setSyncStatus(true, "")
		m.logger.Info("バックエンドとの同期が完了しました", slog.String("user_id", user.ID))
	default:
		m.setSyncStatus(false, "unexpected status")
		m.logger.Warn("バックエンド同期が想定外の応答を返しました", slog.Int("http_status", status))
	}
}

// RetryBackendSync はバックエンド同期を手動で再試行する。
func (m *Manager) RetryBackendSync(ctx context.Context) model.SyncStatus {
	session := m.CurrentSession()
	if session == nil {
		return model.SyncStatus{Synced: false, Reason: "not signed in"}
	}
	token, err := m.provider.IDToken(ctx, false)
	if err != nil {
		m.setSyncStatus(false, err.Error())
		return m.SyncStatus()
	}
	m.backendSync(ctx, m.currentGeneration(), token)
	return m.SyncStatus()
}

// confirmSession はバックエンドの応答でセッションを確認済みへ昇格させる。
func (m *Manager) confirmSession(user *model.User, token string) {
	now := m.now()

	m.mu.Lock()
	providerUID := ""
	if m.session != nil {
		providerUID = m.session.ProviderUID
	}
	m.session = &model.Session{
		User:         user,
		Status:       model.StatusConfirmed,
		ProviderUID:  providerUID,
		LastVerified: now,
		LastUpdated:  now,
	}
	m.mu.Unlock()

	m.cache.Set(user, token, true, now)
	m.recorder.SetSessionStatus(model.StatusConfirmed.String())
	m.notifyListeners(m.CurrentSession())
}

// setSyncStatus はバックエンド同期の状況を更新する。
func (m *Manager) setSyncStatus(synced bool, reason string) {
	m.mu.Lock()
	m.syncStatus = model.SyncStatus{Synced: synced, Reason: reason}
	m.mu.Unlock()
}

// forceLogout は検証失敗によるサインアウトを行う。
// 既にサインアウト済みの場合は何もしない（冪等）。
func (m *Manager) forceLogout(ctx context.Context, reason string) {
	m.mu.Lock()
	signedIn := m.session != nil
	m.mu.Unlock()
	if !signedIn {
		return
	}

	m.logger.Warn("セッションを強制終了します", slog.String("reason", reason))

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("IdPのサインアウトに失敗しました", slog.String("error", err.Error()))
	}
	m.clearSessionState()
	m.notifyListeners(nil)

	m.recorder.RecordForcedLogout(reason)
	m.sink.SessionExpired(reason)
}

// resultFromProviderError はIdPのエラーを結果オブジェクトへ変換する。
func (m *Manager) resultFromProviderError(err error) model.AuthResult {
	code := identity.CodeOf(err)
	if code == model.AuthCodePopupClosedByUser || code == model.AuthCodeCancelledPopupRequest {
		return model.CancelledResult()
	}
	if code != "" {
		return model.ErrResult(model.NewAuthError(code))
	}
	return model.ErrResult(model.NewTransportError(err.Error()))
}

// userFromNative はIdPのネイティブユーザーをドメインモデルへ写像する。
func userFromNative(native *identity.NativeUser) *model.User {
	return &model.User{
		ID:            native.UID,
		Email:         native.Email,
		Name:          native.DisplayName,
		AvatarURL:     native.PhotoURL,
		EmailVerified: native.EmailVerified,
		AuthProvider:  native.ProviderID,
		CreatedAt:     native.CreatedAt,
		LastLoginAt:   native.LastLoginAt,
	}
}
