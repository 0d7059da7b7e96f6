// Package metrics はセッション管理の動作指標を収集する。
// エージェントモードの/metricsエンドポイントで公開される。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はセッション管理のイベントを記録する。
type Recorder interface {
	// RecordVerify はバックエンド照合の結果を記録する。
	RecordVerify(ok bool)
	// RecordForcedLogout は強制サインアウトを理由付きで記録する。
	RecordForcedLogout(reason string)
	// RecordWarmupPing はウォームアップピンの結果を記録する。
	RecordWarmupPing(ok bool)
	// RecordTokenRefresh はトークン再取得の結果を記録する。
	RecordTokenRefresh(ok bool)
	// SetSessionStatus は現在のセッション状態を記録する。
	SetSessionStatus(status string)
}

// Prometheus はPrometheus形式でメトリクスを収集するRecorder実装。
type Prometheus struct {
	registry      *prometheus.Registry
	verifies      *prometheus.CounterVec
	forcedLogouts *prometheus.CounterVec
	warmupPings   *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
	sessionStatus *prometheus.GaugeVec
}

// NewPrometheus はPrometheusレコーダーを生成する。
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry: registry,
		verifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savlink_verify_total",
			Help: "バックエンド照合の実行回数",
		}, []string{"result"}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savlink_forced_logouts_total",
			Help: "強制サインアウトの回数",
		}, []string{"reason"}),
		warmupPings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savlink_warmup_pings_total",
			Help: "ウォームアップピンの実行回数",
		}, []string{"result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savlink_token_refresh_total",
			Help: "トークン再取得の実行回数",
		}, []string{"result"}),
		sessionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "savlink_session_status",
			Help: "現在のセッション状態（該当する状態のみ1）",
		}, []string{"status"}),
	}
	registry.MustRegister(p.verifies, p.forcedLogouts, p.warmupPings, p.tokenRefresh, p.sessionStatus)
	return p
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordVerify はバックエンド照合の結果を記録する。
func (p *Prometheus) RecordVerify(ok bool) {
	p.verifies.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordForcedLogout は強制サインアウトを理由付きで記録する。
func (p *Prometheus) RecordForcedLogout(reason string) {
	p.forcedLogouts.WithLabelValues(reason).Inc()
}

// RecordWarmupPing はウォームアップピンの結果を記録する。
func (p *Prometheus) RecordWarmupPing(ok bool) {
	p.warmupPings.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordTokenRefresh はトークン再取得の結果を記録する。
func (p *Prometheus) RecordTokenRefresh(ok bool) {
	p.tokenRefresh.WithLabelValues(resultLabel(ok)).Inc()
}

// SetSessionStatus は現在のセッション状態を記録する。
func (p *Prometheus) SetSessionStatus(status string) {
	p.sessionStatus.Reset()
	p.sessionStatus.WithLabelValues(status).Set(1)
}

// Handler はPrometheus形式のエクスポートハンドラを返す。
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder実装。CLIの単発コマンドで使用する。
type Nop struct{}

func (Nop) RecordVerify(bool)         {}
func (Nop) RecordForcedLogout(string) {}
func (Nop) RecordWarmupPing(bool)     {}
func (Nop) RecordTokenRefresh(bool)   {}
func (Nop) SetSessionStatus(string)   {}

// compile-time interface checks
var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
