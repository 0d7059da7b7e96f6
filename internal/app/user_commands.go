package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/model"
)

func accountCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "アカウントのプロフィールと設定を操作する",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "プロフィールを表示する",
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						profile, err := d.client.Profile(ctx)
						if err != nil {
							return err
						}
						return printJSON(out, profile)
					})
				},
			},
			{
				Name:  "update",
				Usage: "プロフィールを更新する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "表示名"},
				},
				Action: func(c *cli.Context) error {
					if !c.IsSet("name") {
						return cli.Exit("更新する項目を指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						profile, err := d.client.UpdateProfile(ctx, api.ProfileInput{Name: c.String("name")})
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "更新しました: %s\n", profile.Name)
						return nil
					})
				},
			},
			{
				Name:      "avatar",
				Usage:     "アバター画像をアップロードする",
				ArgsUsage: "<image-file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "delete", Usage: "アバター画像を削除する"},
				},
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if c.Bool("delete") {
							if err := d.client.DeleteAvatar(ctx); err != nil {
								return err
							}
							fmt.Fprintln(out, "アバターを削除しました。")
							return nil
						}
						path := c.Args().First()
						if path == "" {
							return cli.Exit("画像ファイルを指定してください。", 1)
						}
						data, err := os.ReadFile(path)
						if err != nil {
							return fmt.Errorf("画像ファイルの読み込みに失敗しました: %w", err)
						}
						profile, err := d.client.UploadAvatar(ctx, filepath.Base(path), data)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "アップロードしました: %s\n", profile.AvatarURL)
						return nil
					})
				},
			},
			{
				Name:  "settings",
				Usage: "ユーザー設定を表示・更新する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "theme", Usage: "テーマ (light, dark)"},
					&cli.StringFlag{Name: "language", Usage: "表示言語"},
					&cli.IntFlag{Name: "per-page", Usage: "1ページあたりのリンク件数"},
				},
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if !c.IsSet("theme") && !c.IsSet("language") && !c.IsSet("per-page") {
							settings, err := d.client.Settings(ctx)
							if err != nil {
								return err
							}
							return printJSON(out, settings)
						}
						updated, err := d.client.UpdateSettings(ctx, model.UserSettings{
							Theme:        c.String("theme"),
							Language:     c.String("language"),
							LinksPerPage: c.Int("per-page"),
						})
						if err != nil {
							return err
						}
						return printJSON(out, updated)
					})
				},
			},
			{
				Name:      "change-password",
				Usage:     "バックエンド側のパスワードを変更する",
				ArgsUsage: "<current-password> <new-password>",
				Action: func(c *cli.Context) error {
					current := c.Args().Get(0)
					next := c.Args().Get(1)
					if current == "" || next == "" {
						return cli.Exit("現在のパスワードと新しいパスワードを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if err := d.client.ChangePassword(ctx, current, next); err != nil {
							return err
						}
						fmt.Fprintln(out, "パスワードを変更しました。")
						return nil
					})
				},
			},
			{
				Name:  "usage",
				Usage: "アカウント全体の利用量を表示する",
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						stats, err := d.client.UsageStats(ctx)
						if err != nil {
							return err
						}
						return printJSON(out, stats)
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "アカウントを完全に削除する",
				ArgsUsage: "<password>",
				Action: func(c *cli.Context) error {
					password := c.Args().First()
					if password == "" {
						return cli.Exit("確認のため現在のパスワードを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if err := d.client.DeleteAccount(ctx, password); err != nil {
							return err
						}
						if result := d.manager.Logout(ctx); !result.Success {
							fmt.Fprintln(out, "ローカルセッションの破棄に失敗しました。")
						}
						fmt.Fprintln(out, "アカウントを削除しました。")
						return nil
					})
				},
			},
		},
	}
}
