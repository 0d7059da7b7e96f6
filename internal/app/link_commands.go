package app

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/model"
)

// requireAuth はサインイン済みであることを確認する。
func requireAuth(d *deps) error {
	if !d.manager.IsAuthenticated() {
		return cli.Exit("サインインしていません。先に savlink login を実行してください。", 1)
	}
	return nil
}

func linkCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "リンク（ブックマーク）を操作する",
		Subcommands: []*cli.Command{
			linkAddCommand(cfg, out),
			linkListCommand(cfg, out),
			linkUpdateCommand(cfg, out),
			linkDeleteCommand(cfg, out),
			linkPinCommand(cfg, out),
			linkArchiveCommand(cfg, out),
			linkMetadataCommand(cfg, out),
		},
	}
}

func linkAddCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "リンクを保存する",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "タイトル（省略時はページから取得）"},
			&cli.StringFlag{Name: "description", Usage: "説明"},
			&cli.StringFlag{Name: "folder", Usage: "フォルダID"},
			&cli.StringSliceFlag{Name: "tag", Usage: "タグ（複数指定可）"},
			&cli.BoolFlag{Name: "no-fetch", Usage: "ページメタデータの自動取得を行わない"},
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

				input := api.CreateLinkInput{
					URL:         target,
					Title:       c.String("title"),
					Description: c.String("description"),
					FolderID:    c.String("folder"),
					Tags:        c.StringSlice("tag"),
				}

				// タイトル未指定ならメタデータで補完する。
				// バックエンドのAPIを優先し、失敗時はローカルで取得する。
				if input.Title == "" && !c.Bool("no-fetch") {
					meta := fetchMetadata(ctx, d, target)
					if meta != nil {
						input.Title = meta.Title
						if input.Description == "" {
							input.Description = meta.Description
						}
					}
				}

				link, err := d.client.CreateLink(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "保存しました: %s (%s)\n", link.Title, link.ID)
				return nil
			})
		},
	}
}

// fetchMetadata はページメタデータをバックエンド経由→ローカルの順で取得する。
// どちらも失敗した場合はnilを返す（保存自体は継続する）。
func fetchMetadata(ctx context.Context, d *deps, target string) *model.LinkMetadata {
	if meta, err := d.client.FetchMetadata(ctx, target); err == nil {
		return meta
	}
	meta, err := d.fetcher.Fetch(ctx, target)
	if err != nil {
		d.logger.Warn("メタデータの取得に失敗しました", "url", target, "error", err.Error())
		return nil
	}
	return meta
}

func linkListCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "リンク一覧を表示する",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Usage: "フォルダIDで絞り込む"},
			&cli.StringFlag{Name: "tag", Usage: "タグで絞り込む"},
			&cli.BoolFlag{Name: "archived", Usage: "アーカイブ済みを表示する"},
			&cli.BoolFlag{Name: "pinned", Usage: "ピン留めのみ表示する"},
			&cli.IntFlag{Name: "page", Value: 1, Usage: "ページ番号"},
			&cli.BoolFlag{Name: "json", Usage: "JSON形式で出力する"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				page, err := d.client.ListLinks(ctx, api.ListLinksOptions{
					Page:     c.Int("page"),
					FolderID: c.String("folder"),
					Tag:      c.String("tag"),
					Archived: c.Bool("archived"),
					Pinned:   c.Bool("pinned"),
				})
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(out, page)
				}
				for _, link := range page.Links {
					marker := " "
					if link.Pinned {
						marker = "*"
					}
					fmt.Fprintf(out, "%s %s  %s\n    %s\n", marker, link.ID, link.Title, link.URL)
				}
				fmt.Fprintf(out, "%d件 / 全%d件\n", len(page.Links), page.TotalCount)
				return nil
			})
		},
	}
}

func linkUpdateCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "リンクを更新する",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "タイトル"},
			&cli.StringFlag{Name: "description", Usage: "説明"},
			&cli.StringFlag{Name: "folder", Usage: "フォルダID"},
			&cli.StringSliceFlag{Name: "tag", Usage: "タグ（指定時は全置換）"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("リンクIDを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				input := api.UpdateLinkInput{}
				if c.IsSet("title") {
					v := c.String("title")
					input.Title = &v
				}
				if c.IsSet("description") {
					v := c.String("description")
					input.Description = &v
				}
				if c.IsSet("folder") {
					v := c.String("folder")
					input.FolderID = &v
				}
				if c.IsSet("tag") {
					v := c.StringSlice("tag")
					input.Tags = &v
				}
				link, err := d.client.UpdateLink(ctx, id, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "更新しました: %s\n", link.ID)
				return nil
			})
		},
	}
}

func linkDeleteCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "リンクを削除する（複数指定で一括削除）",
		ArgsUsage: "<id> [<id>...]",
		Action: func(c *cli.Context) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return cli.Exit("リンクIDを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				if len(ids) == 1 {
					if err := d.client.DeleteLink(ctx, ids[0]); err != nil {
						return err
					}
				} else {
					if err := d.client.BulkDeleteLinks(ctx, ids); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "%d件削除しました。\n", len(ids))
				return nil
			})
		},
	}
}

func linkPinCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "リンクをピン留め/解除する",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "off", Usage: "ピン留めを解除する"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("リンクIDを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				var err error
				if c.Bool("off") {
					_, err = d.client.UnpinLink(ctx, id)
				} else {
					_, err = d.client.PinLink(ctx, id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "更新しました。")
				return nil
			})
		},
	}
}

func linkArchiveCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "リンクをアーカイブ/復元する（複数指定で一括）",
		ArgsUsage: "<id> [<id>...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "restore", Usage: "アーカイブから復元する"},
		},
		Action: func(c *cli.Context) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return cli.Exit("リンクIDを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				if c.Bool("restore") {
					for _, id := range ids {
						if _, err := d.client.RestoreLink(ctx, id); err != nil {
							return err
						}
					}
				} else if len(ids) == 1 {
					if _, err := d.client.ArchiveLink(ctx, ids[0]); err != nil {
						return err
					}
				} else {
					if err := d.client.BulkArchiveLinks(ctx, ids); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "%d件処理しました。\n", len(ids))
				return nil
			})
		},
	}
}

func linkMetadataCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "metadata",
		Usage:     "URLのページメタデータを取得して表示する",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "local", Usage: "バックエンドを経由せずローカルで取得する"},
		},
		Action: func(c *cli.Context) error {
			target := c.Args().First()
			if target == "" {
				return cli.Exit("URLを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				var meta *model.LinkMetadata
				var err error
				if c.Bool("local") {
					meta, err = d.fetcher.Fetch(ctx, target)
				} else {
					meta = fetchMetadata(ctx, d, target)
					if meta == nil {
						err = fmt.Errorf("メタデータを取得できませんでした")
					}
				}
				if err != nil {
					return err
				}
				return printJSON(out, meta)
			})
		},
	}
}
