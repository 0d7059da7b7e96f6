// Package importer はRSS/Atomフィードからのブックマーク一括取り込みを提供する。
// フィードの各記事を1件のリンクとしてバックエンドへ登録する。
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/security"
)

const (
	// fetchTimeout はフィード取得のタイムアウト。
	fetchTimeout = 30 * time.Second
	// maxFeedSize は読み込むフィードの上限サイズ。
	maxFeedSize = 5 << 20 // 5MB
)

// LinkCreator はリンク登録操作のインターフェース。api.Clientが実装する。
type LinkCreator interface {
	CreateLink(ctx context.Context, input api.CreateLinkInput) (*model.Link, error)
}

// Result は取り込み結果の集計。
type Result struct {
	Total    int      // フィードに含まれていた記事数
	Imported int      // 登録に成功した件数
	Failed   int      // 登録に失敗した件数
	Errors   []string // 失敗した記事とその理由
}

// Importer はフィード取り込み器。
type Importer struct {
	links  LinkCreator
	guard  security.URLGuard
	logger *slog.Logger
}

// New はImporterの新しいインスタンスを生成する。
func New(links LinkCreator, guard security.URLGuard, logger *slog.Logger) *Importer {
	return &Importer{
		links:  links,
		guard:  guard,
		logger: logger,
	}
}

// ImportFeed は指定URLのRSS/Atomフィードを取得し、各記事をリンクとして登録する。
// folderIDとtagsは登録される全リンクに適用される。
// 一部の記事の登録失敗は全体を中断せず、Resultに集計される。
func (i *Importer) ImportFeed(ctx context.Context, feedURL, folderID string, tags []string) (*Result, error) {
	if err := i.guard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("フィードURLの検証に失敗しました: %w", err)
	}

	body, err := i.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	i.logger.Info("フィードの取り込みを開始します",
		slog.String("feed_title", feed.Title),
		slog.Int("item_count", len(feed.Items)),
	)

	result := &Result{Total: len(feed.Items)}
	for _, item := range feed.Items {
		if item.Link == "" {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: リンクURLがありません", item.Title))
			continue
		}

		input := api.CreateLinkInput{
			URL:         item.Link,
			Title:       item.Title,
			Description: item.Description,
			FolderID:    folderID,
			Tags:        tags,
		}
		if _, err := i.links.CreateLink(ctx, input); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Link, err))
			i.logger.Warn("リンクの登録に失敗しました",
				slog.String("url", item.Link),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Imported++
	}

	i.logger.Info("フィードの取り込みが完了しました",
		slog.Int("imported", result.Imported),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// fetch はSSRF防止クライアントでフィード本文を取得する。
func (i *Importer) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	client := i.guard.SafeClient(fetchTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Savlink/1.0 Bookmark Manager")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("フィード取得がステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("フィード本文の読み取りに失敗しました: %w", err)
	}
	return body, nil
}
