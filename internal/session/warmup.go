package session

import (
	"context"
	"log/slog"
	"time"
)

// warmupDelays は起動直後のウォームアップピンの実行オフセット。
// 以降はWarmupIntervalの周期で継続する。
var warmupDelays = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// runWarmup はバックエンドのコールドスタート緩和のためのピンを打ち続ける。
// 本番環境かつセッションがある間のみ実行し、失敗は黙って握りつぶす。
// 正しさには寄与しないため、エラーがユーザーに見えることはない。
func (m *Manager) runWarmup(ctx context.Context) {
	if !m.cfg.IsProduction() {
		return
	}

	prev := time.Duration(0)
	for _, offset := range warmupDelays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(offset - prev):
		}
		prev = offset
		m.warmupPing(ctx)
	}

	ticker := time.NewTicker(m.cfg.WarmupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.warmupPing(ctx)
		}
	}
}

// warmupPing は1回のヘルスチェックを短いタイムアウト付きで実行する。
func (m *Manager) warmupPing(ctx context.Context) {
	if m.CurrentSession() == nil {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.WarmupTimeout)
	defer cancel()

	err := m.backend.Health(pingCtx)
	m.recorder.RecordWarmupPing(err == nil)
	if err != nil {
		m.logger.Debug("ウォームアップピンに失敗しました", slog.String("error", err.Error()))
	}
}
