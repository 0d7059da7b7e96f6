package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/metrics"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/session"
)

// agentSink はセッションイベントを構造化ログへ流すEventSink実装。
type agentSink struct {
	logger *slog.Logger
}

func (s agentSink) SessionExpired(reason string) {
	s.logger.Warn("セッションが強制終了されました", slog.String("reason", reason))
}

func (s agentSink) RedirectCompleted(user *model.User) {
	s.logger.Info("リダイレクトサインインが完了しました", slog.String("email", user.Email))
}

func agentCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "常駐モードで起動し、セッション維持とローカルAPIを提供する",
		Action: func(c *cli.Context) error {
			return runAgent(cfg, out)
		},
	}
}

// runAgent は常駐モードで起動する。
// セッションマネージャーのバックグラウンド処理（照合・ウォームアップ・
// トークン再取得）を動かし続け、ローカルHTTPで状態とメトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runAgent(cfg *config.Config, out io.Writer) error {
	recorder := metrics.NewPrometheus()
	d, err := build(cfg, out, recorder, agentSink{logger: slog.Default()})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.manager.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("セッションの初期化に失敗しました: %w", err)
	}
	defer d.manager.Shutdown()

	// セッション変化をログへ記録する
	unsubscribe := d.manager.OnSessionChange(func(s *model.Session) {
		if s == nil {
			slog.Info("セッション変化: サインアウト")
			return
		}
		slog.Info("セッション変化",
			slog.String("status", s.Status.String()),
			slog.String("user_id", s.User.ID),
		)
	})
	defer unsubscribe()

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", recorder.Handler())
	router.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, d.manager.DebugState())
	})
	router.Post("/session/verify", func(w http.ResponseWriter, r *http.Request) {
		status := d.manager.VerifyNow(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, status)
	})

	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.AgentPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("エージェントを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("エージェントの待受に失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("エージェントを停止します...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("エージェントを停止しました")
	return nil
}

// compile-time interface check
var _ session.EventSink = agentSink{}
