package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/savlink/savlink-go/internal/identity"
	"github.com/savlink/savlink-go/internal/model"
)

// verifier はバックグラウンドでセッションをバックエンドと照合する。
// 実行中スキップと最小間隔のクールダウンを持ち、一時的な
// バックエンド障害ではローカル状態を維持する（オフライン耐性）。
type verifier struct {
	m       *Manager
	limiter *rate.Limiter

	mu        sync.Mutex
	verifying bool
}

func newVerifier(m *Manager) *verifier {
	return &verifier{
		m:       m,
		limiter: rate.NewLimiter(rate.Every(m.cfg.VerifyInterval), 1),
	}
}

// run は照合ループを実行する。ctxのキャンセルで停止する。
func (v *verifier) run(ctx context.Context) {
	// 起動直後に一度照合する（キャッシュ復元直後の確認）
	v.verify(ctx, false)

	ticker := time.NewTicker(v.m.cfg.VerifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.verify(ctx, false)
		}
	}
}

// verify は1回の照合を実行する。
// forceがfalseの場合はクールダウン中の実行をスキップする。
func (v *verifier) verify(ctx context.Context, force bool) {
	m := v.m

	if m.CurrentSession() == nil {
		return
	}

	// 実行中なら重複起動しない
	v.mu.Lock()
	if v.verifying {
		v.mu.Unlock()
		return
	}
	v.verifying = true
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.verifying = false
		v.mu.Unlock()
	}()

	if !force && !v.limiter.Allow() {
		return
	}

	gen := m.currentGeneration()

	// キャッシュが再取得を要求している場合はトークンを強制更新する
	record := m.cache.Get()
	needsRefresh := record == nil || record.Token == "" || record.TokenNeedsRefresh

	token, err := m.provider.IDToken(ctx, needsRefresh)
	if err != nil {
		if identity.IsExpiredCode(identity.CodeOf(err)) {
			m.forceLogout(ctx, ReasonAuthExpired)
			m.recorder.RecordVerify(false)
			return
		}
		m.logger.Warn("照合用トークンの取得に失敗しました", slog.String("error", err.Error()))
		m.recorder.RecordVerify(false)
		return
	}

	verifyCtx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()

	user, status, err := m.backend.WhoAmI(verifyCtx, token)
	if !m.generationCurrent(gen) {
		// 照合中にサインアウトした。応答は破棄する。
		return
	}

	switch {
	case err != nil:
		// 5xx・タイムアウトはローカル状態を維持する
		m.setSyncStatus(false, err.Error())
		m.recorder.RecordVerify(false)
		m.logger.Warn("バックエンド照合に失敗しました（状態は維持します）",
			slog.String("error", err.Error()),
		)
	case status == 401:
		m.recorder.RecordVerify(false)
		m.forceLogout(ctx, ReasonInvalidToken)
	case status == 200 && user != nil:
		m.confirmSession(user, token)
		m.setSyncStatus(true, "")
		m.recorder.RecordVerify(true)
	default:
		m.setSyncStatus(false, "unexpected status")
		m.recorder.RecordVerify(false)
		m.logger.Warn("バックエンド照合が想定外の応答を返しました",
			slog.Int("http_status", status),
		)
	}
}

// VerifyNow はクールダウンを無視して直ちに照合を実行する。
func (m *Manager) VerifyNow(ctx context.Context) model.SyncStatus {
	m.verifier.verify(ctx, true)
	return m.SyncStatus()
}
