// Package app はCLIのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/authcache"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/identity"
	"github.com/savlink/savlink-go/internal/importer"
	"github.com/savlink/savlink-go/internal/logger"
	"github.com/savlink/savlink-go/internal/metadata"
	"github.com/savlink/savlink-go/internal/metrics"
	"github.com/savlink/savlink-go/internal/security"
	"github.com/savlink/savlink-go/internal/session"
	"github.com/savlink/savlink-go/internal/storage"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// deps はコマンド間で共有する依存関係の束。
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *api.Client
	manager  *session.Manager
	recorder metrics.Recorder
	fetcher  *metadata.Fetcher
	importer *importer.Importer
	out      io.Writer
}

// build は全依存関係をワイヤリングする。
// recorderはCLIの単発コマンドではNop、エージェントモードではPrometheusを渡す。
func build(cfg *config.Config, out io.Writer, recorder metrics.Recorder, sink session.EventSink) (*deps, error) {
	log := slog.Default()

	// 1. APIクライアント
	client := api.NewClient(cfg, log)

	// 2. 永続化層（ユーザー設定ディレクトリ → 一時ディレクトリ → メモリ）
	localDir := cfg.DataDir
	if localDir == "" {
		dir, err := storage.DefaultLocalDir()
		if err != nil {
			log.Warn("設定ディレクトリを解決できません", slog.String("error", err.Error()))
		}
		localDir = dir
	}
	localStore := newFileSafeStore("local", localDir, log)
	sessionStore := newFileSafeStore("session", storage.DefaultSessionDir(), log)

	// 3. 認証キャッシュ（トークンはAPIクライアントへ連動する）
	cache := authcache.New(localStore, client, log)

	// 4. IdPプロバイダー
	provider := identity.NewRestProvider(identity.Config{
		APIKey:             cfg.IdentityAPIKey,
		BaseURL:            cfg.IdentityBaseURL,
		TokenURL:           cfg.IdentityTokenURL,
		Logger:             log,
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		CallbackPort:       cfg.OAuthCallbackPort,
		PopupWait:          cfg.PopupWait,
		RedirectWait:       cfg.RedirectWait,
	}, localStore, sessionStore)

	// 5. セッションマネージャー
	manager := session.New(session.Options{
		Config:     cfg,
		Provider:   provider,
		Backend:    client,
		Cache:      cache,
		Recorder:   recorder,
		Sink:       sink,
		Logger:     log,
		LocalStore: localStore,
	})

	// 401受信時はIdPトークンを強制リフレッシュして1回だけ再実行する。
	// リフレッシュも失敗した場合はセッション失効として通知する。
	client.SetTokenSource(func(ctx context.Context) (string, error) {
		return manager.IDToken(ctx, true)
	})
	client.SetAuthExpiredHandler(func() {
		sink.SessionExpired(session.ReasonInvalidToken)
	})

	// 6. メタデータ取得とフィード取り込み
	guard := security.NewURLGuard()
	fetcher := metadata.NewFetcher(guard, log)
	imp := importer.New(client, guard, log)

	return &deps{
		cfg:      cfg,
		logger:   log,
		client:   client,
		manager:  manager,
		recorder: recorder,
		fetcher:  fetcher,
		importer: imp,
		out:      out,
	}, nil
}

// newFileSafeStore はディレクトリをバックエンドとするSafeStoreを生成する。
// ディレクトリが作成できない場合は利用不可として扱う（nilバックエンド）。
func newFileSafeStore(name, dir string, log *slog.Logger) *storage.SafeStore {
	if dir == "" {
		return storage.NewSafeStore(name, nil, log)
	}
	fs, err := storage.NewFileStore(dir)
	if err != nil {
		log.Warn("ストレージディレクトリを作成できません",
			slog.String("store", name),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return storage.NewSafeStore(name, nil, log)
	}
	return storage.NewSafeStore(name, fs, log)
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args全体を渡す。
func Run(out, errOut io.Writer, args []string) error {
	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if len(args) > 1 && args[1] == "healthcheck" {
		return runHealthcheck()
	}

	cfg, err := Init(errOut)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	app := &cli.App{
		Name:   "savlink",
		Usage:  "Savlinkブックマークマネージャーのコマンドラインクライアント",
		Writer: out,
		Commands: []*cli.Command{
			registerCommand(cfg, out),
			loginCommand(cfg, out),
			logoutCommand(cfg, out),
			whoamiCommand(cfg, out),
			resetPasswordCommand(cfg, out),
			resendVerificationCommand(cfg, out),
			linkCommand(cfg, out),
			shortlinkCommand(cfg, out),
			folderCommand(cfg, out),
			tagCommand(cfg, out),
			searchCommand(cfg, out),
			statsCommand(cfg, out),
			accountCommand(cfg, out),
			importCommand(cfg, out),
			agentCommand(cfg, out),
			debugCommand(cfg, out),
		},
	}
	return app.Run(args)
}

// runHealthcheck はローカルのエージェントに対するヘルスチェックを実行する。
// コンテナ環境のヘルスチェック用サブコマンド。
func runHealthcheck() error {
	port := config.AgentPortFromEnv()
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// printJSON は結果をインデント付きJSONで出力する。
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
