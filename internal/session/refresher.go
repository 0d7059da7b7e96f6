package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/savlink/savlink-go/internal/identity"
)

// runTokenRefresh は一定周期でIdPのIDトークンを強制再取得する。
// セッションが未確認のままの場合はバックエンド同期も再試行する。
// 失効検知時は一度だけリロード+再取得を試み、それでも失効なら
// 強制サインアウトする。
func (m *Manager) runTokenRefresh(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TokenRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshToken(ctx)
		}
	}
}

// refreshToken は1回のトークン再取得サイクルを実行する。
func (m *Manager) refreshToken(ctx context.Context) {
	session := m.CurrentSession()
	if session == nil {
		return
	}

	gen := m.currentGeneration()

	token, err := m.provider.IDToken(ctx, true)
	if err != nil {
		if !identity.IsExpiredCode(identity.CodeOf(err)) {
			m.recorder.RecordTokenRefresh(false)
			m.logger.Warn("トークンの再取得に失敗しました", slog.String("error", err.Error()))
			return
		}

		// 失効検知。リロードしてもう一度だけ再取得を試みる。
		m.logger.Info("トークンの失効を検知しました。リロードして再試行します")
		if reloadErr := m.provider.Reload(ctx); reloadErr != nil {
			m.logger.Warn("ユーザー情報のリロードに失敗しました",
				slog.String("error", reloadErr.Error()),
			)
		}
		token, err = m.provider.IDToken(ctx, true)
		if err != nil {
			m.recorder.RecordTokenRefresh(false)
			if identity.IsExpiredCode(identity.CodeOf(err)) {
				m.forceLogout(ctx, ReasonAuthExpired)
			}
			return
		}
	}

	if !m.generationCurrent(gen) {
		return
	}

	m.recorder.RecordTokenRefresh(true)

	// 再取得したトークンでキャッシュを上書きする
	session = m.CurrentSession()
	if session == nil {
		return
	}
	m.cache.Set(session.User, token, session.Confirmed(), session.LastVerified)

	// 未確認のままならバックエンド同期を再試行する
	if !session.Confirmed() {
		m.backendSync(ctx, gen, token)
	}
}
