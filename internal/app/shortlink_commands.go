package app

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/config"
)

func shortlinkCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "shortlink",
		Usage: "短縮リンクを操作する",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "短縮リンク一覧を表示する",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "取得するページ番号"},
					&cli.BoolFlag{Name: "json", Usage: "JSON形式で出力する"},
				},
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						links, err := d.client.ListShortLinks(ctx, c.Int("page"))
						if err != nil {
							return err
						}
						if c.Bool("json") {
							return printJSON(out, links)
						}
						for _, link := range links {
							fmt.Fprintf(out, "%s  /%s -> %s (%d回)\n", link.ID, link.Slug, link.TargetURL, link.ClickCount)
						}
						return nil
					})
				},
			},
			{
				Name:      "create",
				Usage:     "短縮リンクを作成する",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "slug", Usage: "スラッグ（省略時は自動生成）"},
					&cli.StringFlag{Name: "title", Usage: "表示タイトル"},
				},
				Action: func(c *cli.Context) error {
					target := c.Args().First()
					if target == "" {
						return cli.Exit("URLを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						slug := c.String("slug")
						if slug != "" {
							// 空き確認はベストエフォート（バックエンド側でも検証される）
							if available, err := d.client.CheckSlug(ctx, slug); err == nil && !available {
								return cli.Exit("そのスラッグは既に使われています。", 1)
							}
						}
						link, err := d.client.CreateShortLink(ctx, api.ShortLinkInput{
							TargetURL: target,
							Slug:      slug,
							Title:     c.String("title"),
						})
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "作成しました: /%s (%s)\n", link.Slug, link.ID)
						return nil
					})
				},
			},
			{
				Name:      "update",
				Usage:     "短縮リンクを更新する",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "転送先URL"},
					&cli.StringFlag{Name: "slug", Usage: "スラッグ"},
					&cli.StringFlag{Name: "title", Usage: "表示タイトル"},
					&cli.IntFlag{Name: "click-limit", Usage: "クリック上限（0で無制限）"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						input := api.ShortLinkInput{
							TargetURL: c.String("url"),
							Slug:      c.String("slug"),
							Title:     c.String("title"),
						}
						if c.IsSet("click-limit") {
							limit := c.Int("click-limit")
							input.ClickLimit = &limit
						}
						link, err := d.client.UpdateShortLink(ctx, id, input)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "更新しました: /%s\n", link.Slug)
						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "短縮リンクを削除する",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if err := d.client.DeleteShortLink(ctx, id); err != nil {
							return err
						}
						fmt.Fprintln(out, "削除しました。")
						return nil
					})
				},
			},
			{
				Name:      "analytics",
				Usage:     "短縮リンクのクリック集計を表示する",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "period", Value: "7d", Usage: "集計期間 (24h, 7d, 30d)"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						analytics, err := d.client.ShortLinkAnalytics(ctx, id, c.String("period"))
						if err != nil {
							return err
						}
						return printJSON(out, analytics)
					})
				},
			},
			{
				Name:      "clicks",
				Usage:     "短縮リンクのクリック履歴を表示する",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "取得するページ番号"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						page, err := d.client.ShortLinkClicks(ctx, id, c.Int("page"))
						if err != nil {
							return err
						}
						for _, click := range page.Clicks {
							fmt.Fprintf(out, "%s  %s %s\n", click.ClickedAt.Format("2006-01-02 15:04"), click.Country, click.Referrer)
						}
						fmt.Fprintf(out, "全%d件\n", page.TotalCount)
						return nil
					})
				},
			},
			{
				Name:      "password",
				Usage:     "パスワード保護を設定・解除する",
				ArgsUsage: "<id> [password]",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						link, err := d.client.ToggleShortLinkPassword(ctx, id, c.Args().Get(1))
						if err != nil {
							return err
						}
						if link.Protected {
							fmt.Fprintln(out, "パスワード保護を設定しました。")
						} else {
							fmt.Fprintln(out, "パスワード保護を解除しました。")
						}
						return nil
					})
				},
			},
			{
				Name:      "qr",
				Usage:     "QRコード画像のURLを表示する",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size", Value: 200, Usage: "画像サイズ（ピクセル）"},
					&cli.StringFlag{Name: "format", Value: "png", Usage: "画像形式 (png, svg)"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("短縮リンクIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						fmt.Fprintln(out, d.client.ShortLinkQRURL(id, c.Int("size"), c.String("format")))
						return nil
					})
				},
			},
			{
				Name:  "export",
				Usage: "短縮リンク一覧をエクスポートする",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "csv", Usage: "出力形式 (csv, json)"},
				},
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						data, err := d.client.ExportShortLinks(ctx, c.String("format"))
						if err != nil {
							return err
						}
						fmt.Fprintln(out, string(data))
						return nil
					})
				},
			},
		},
	}
}
