package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/model"
)

func folderCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "folder",
		Usage: "フォルダを操作する",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "フォルダ階層を表示する",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "JSON形式で出力する"},
				},
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						tree, err := d.client.FolderTree(ctx)
						if err != nil {
							return err
						}
						if c.Bool("json") {
							return printJSON(out, tree)
						}
						printFolderTree(out, tree, 0)
						return nil
					})
				},
			},
			{
				Name:      "create",
				Usage:     "フォルダを作成する",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Usage: "親フォルダID"},
					&cli.StringFlag{Name: "color", Usage: "表示色"},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("フォルダ名を指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						// 重複チェックはベストエフォート（バックエンド側でも検証される）
						if available, err := d.client.CheckFolderName(ctx, name); err == nil && !available {
							return cli.Exit("同名のフォルダが既に存在します。", 1)
						}
						folder, err := d.client.CreateFolder(ctx, api.FolderInput{
							Name:     name,
							ParentID: c.String("parent"),
							Color:    c.String("color"),
						})
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "作成しました: %s (%s)\n", folder.Name, folder.ID)
						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "フォルダを削除する（中のリンクは未分類へ移動）",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("フォルダIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if err := d.client.DeleteFolder(ctx, id); err != nil {
							return err
						}
						fmt.Fprintln(out, "削除しました。")
						return nil
					})
				},
			},
			{
				Name:      "move",
				Usage:     "フォルダを別の親の下へ移動する",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Usage: "移動先の親フォルダID（省略時はルート）"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("フォルダIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if _, err := d.client.MoveFolder(ctx, id, c.String("parent")); err != nil {
							return err
						}
						fmt.Fprintln(out, "移動しました。")
						return nil
					})
				},
			},
			{
				Name:      "analytics",
				Usage:     "フォルダの利用分析を表示する",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("フォルダIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						analytics, err := d.client.FolderAnalytics(ctx, id)
						if err != nil {
							return err
						}
						return printJSON(out, analytics)
					})
				},
			},
			{
				Name:  "merge-suggestions",
				Usage: "類似フォルダの統合候補を表示する",
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						suggestions, err := d.client.FolderMergeSuggestions(ctx)
						if err != nil {
							return err
						}
						return printJSON(out, suggestions)
					})
				},
			},
		},
	}
}

// printFolderTree はフォルダ階層をインデント付きで出力する。
func printFolderTree(out io.Writer, folders []*model.Folder, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range folders {
		fmt.Fprintf(out, "%s%s (%s, %d件)\n", indent, f.Name, f.ID, f.LinkCount)
		printFolderTree(out, f.Children, depth+1)
	}
}

func tagCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "tag",
		Usage: "タグを操作する",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "タグ一覧を表示する",
				Action: func(c *cli.Context) error {
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						tags, err := d.client.ListTags(ctx)
						if err != nil {
							return err
						}
						for _, tag := range tags {
							fmt.Fprintf(out, "%s  %s (%d件)\n", tag.ID, tag.Name, tag.LinkCount)
						}
						return nil
					})
				},
			},
			{
				Name:      "create",
				Usage:     "タグを作成する",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "color", Usage: "表示色"},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("タグ名を指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						tag, err := d.client.CreateTag(ctx, api.TagInput{Name: name, Color: c.String("color")})
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "作成しました: %s (%s)\n", tag.Name, tag.ID)
						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "タグを削除する",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("タグIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						if err := d.client.DeleteTag(ctx, id); err != nil {
							return err
						}
						fmt.Fprintln(out, "削除しました。")
						return nil
					})
				},
			},
			{
				Name:      "merge",
				Usage:     "複数のタグを統合する",
				ArgsUsage: "<target-id> <source-id> [<source-id>...]",
				Action: func(c *cli.Context) error {
					args := c.Args().Slice()
					if len(args) < 2 {
						return cli.Exit("統合先と統合元のタグIDを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						tag, err := d.client.MergeTags(ctx, args[0], args[1:])
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "統合しました: %s (%d件)\n", tag.Name, tag.LinkCount)
						return nil
					})
				},
			},
			{
				Name:      "suggest",
				Usage:     "URLからタグ候補を表示する",
				ArgsUsage: "<url>",
				Action: func(c *cli.Context) error {
					target := c.Args().First()
					if target == "" {
						return cli.Exit("URLを指定してください。", 1)
					}
					return withManager(cfg, out, func(ctx context.Context, d *deps) error {
						if err := requireAuth(d); err != nil {
							return err
						}
						tags, err := d.client.SuggestTags(ctx, target, "")
						if err != nil {
							return err
						}
						fmt.Fprintln(out, strings.Join(tags, ", "))
						return nil
					})
				},
			},
		},
	}
}

func searchCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "リンクを全文検索する",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Usage: "フォルダIDで絞り込む"},
			&cli.StringSliceFlag{Name: "tag", Usage: "タグで絞り込む"},
			&cli.BoolFlag{Name: "archived", Usage: "アーカイブ済みも含める"},
			&cli.BoolFlag{Name: "json", Usage: "JSON形式で出力する"},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return cli.Exit("検索キーワードを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				result, err := d.client.Search(ctx, query, api.SearchOptions{
					FolderID: c.String("folder"),
					Tags:     c.StringSlice("tag"),
					Archived: c.Bool("archived"),
				})
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(out, result)
				}
				for _, link := range result.Links {
					fmt.Fprintf(out, "%s  %s\n    %s\n", link.ID, link.Title, link.URL)
				}
				fmt.Fprintf(out, "全%d件\n", result.TotalCount)
				return nil
			})
		},
	}
}

func statsCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "利用統計を表示する",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "home", Usage: "ホーム画面向けサマリーを表示する"},
		},
		Action: func(c *cli.Context) error {
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				if c.Bool("home") {
					summary, err := d.client.HomeSummary(ctx)
					if err != nil {
						return err
					}
					return printJSON(out, summary)
				}
				stats, err := d.client.DashboardStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, stats)
			})
		},
	}
}

func importCommand(cfg *config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "RSS/Atomフィードからリンクを一括取り込みする",
		ArgsUsage: "<feed-url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Usage: "取り込み先のフォルダID"},
			&cli.StringSliceFlag{Name: "tag", Usage: "全リンクに付与するタグ"},
		},
		Action: func(c *cli.Context) error {
			feedURL := c.Args().First()
			if feedURL == "" {
				return cli.Exit("フィードURLを指定してください。", 1)
			}
			return withManager(cfg, out, func(ctx context.Context, d *deps) error {
				if err := requireAuth(d); err != nil {
					return err
				}
				result, err := d.importer.ImportFeed(ctx, feedURL, c.String("folder"), c.StringSlice("tag"))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "取り込み完了: %d/%d件成功\n", result.Imported, result.Total)
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  失敗: %s\n", e)
				}
				return nil
			})
		},
	}
}
