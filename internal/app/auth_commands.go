package app

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/metrics"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/session"
)

// cliSink はセッションイベントを標準出力へ流すEventSink実装。
type cliSink struct {
	out io.Writer
}

func (s cliSink) SessionExpired(reason string) {
	fmt.Fprintf(s.out, "セッションが終了しました: %s\n", reason)
}

func (s cliSink) RedirectCompleted(user *model.User) {
	fmt.Fprintf(s.out, "Googleサインインが完了しました: %s\n", user.Email)
}

// withManager は依存関係を構築し、セッションマネージャーを初期化した上で
// fnを実行する。コマンド終了時にバックグラウンド処理を停止する。
func withManager(cfg *config.Config, out io.Writer, fn func(context.Context, *deps) error) error {
	d, err := build(cfg, out, metrics.Nop{}, cliSink{out: out})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.manager.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("セッションの初期化に失敗しました: %w", err)
	}
	defer d.manager.Shutdown()

	return fn(ctx, d)
}

// reportResult は認証系操作の結果を出力し、失敗時はエラーを返す。
func reportResult(out io.Writer, result model.AuthResult) error {
	switch {
	case result.Cancelled:
		fmt.Fprintln(out, "サインインをキャンセルしました。")
		return nil
	case result.Success:
		if result.Message != "" {
			fmt.Fprintln(out, result.Message)
		}
		if result.Data != nil && result.Data.Session != nil {
			fmt.Fprintf(out, "ユーザー: %s (%s)\n",
				result.Data.Session.User.Name, result.Data.Session.User.Email)
		}
		return nil
	default:
		if result.Err != nil {
			return cli.Exit(result.Err.Message, 1)
		}
		return cli.Exit("操作に失敗しました。", 1)
	}
}

func registerCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "アカウントを作成してサインインする",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "メールアドレス"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "パスワード"},
			&cli.StringFlag{Name: "name", Usage: "表示名"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				result := d.manager.Register(ctx, c.String("email"), c.String("password"), c.String("name"))
				return reportResult(out, result)
			})
		},
	}
}

func loginCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "サインインする",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "メールアドレス"},
			&cli.StringFlag{Name: "password", Usage: "パスワード"},
			&cli.BoolFlag{Name: "remember", Value: true, Usage: "プロセスをまたいで認証情報を保持する"},
			&cli.BoolFlag{Name: "google", Usage: "Googleアカウントでサインインする"},
			&cli.BoolFlag{Name: "redirect", Usage: "リダイレクト方式を強制する"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				var result model.AuthResult
				if c.Bool("google") {
					result = d.manager.LoginWithGoogle(ctx, c.Bool("redirect"))
				} else {
					if c.String("email") == "" || c.String("password") == "" {
						return cli.Exit("--email と --password を指定してください（Googleサインインは --google）", 1)
					}
					result = d.manager.Login(ctx, c.String("email"), c.String("password"), c.Bool("remember"))
				}
				if result.Pending {
					fmt.Fprintln(out, result.Message)
					fmt.Fprintln(out, "サインイン完了後、任意のコマンドの実行時に自動的に取り込まれます。")
					return nil
				}
				return reportResult(out, result)
			})
		},
	}
}

func logoutCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "サインアウトする",
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				return reportResult(out, d.manager.Logout(ctx))
			})
		},
	}
}

func whoamiCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "現在のサインイン状態を表示する",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verify", Usage: "バックエンドとの照合を直ちに実行する"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if c.Bool("verify") {
					status := d.manager.VerifyNow(ctx)
					if !status.Synced {
						fmt.Fprintf(out, "バックエンド照合: 未同期 (%s)\n", status.Reason)
					}
				}
				session := d.manager.CurrentSession()
				if session == nil {
					fmt.Fprintln(out, "サインインしていません。")
					return nil
				}
				fmt.Fprintf(out, "ユーザー: %s (%s)\n", session.User.Name, session.User.Email)
				fmt.Fprintf(out, "状態: %s\n", session.Status)
				if session.FromCache {
					fmt.Fprintln(out, "（キャッシュから復元、未確認）")
				}
				return nil
			})
		},
	}
}

func resetPasswordCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "reset-password",
		Usage: "パスワード再設定メールを送信する",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "メールアドレス"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				return reportResult(out, d.manager.ResetPassword(ctx, c.String("email")))
			})
		},
	}
}

func resendVerificationCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "resend-verification",
		Usage: "確認メールを再送信する",
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				return reportResult(out, d.manager.ResendVerificationEmail(ctx))
			})
		},
	}
}

func debugCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "セッション状態のデバッグ情報を表示する",
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				return printJSON(out, d.manager.DebugState())
			})
		},
	}
}

// compile-time interface check
var _ session.EventSink = cliSink{}
