// Package metadata はブックマーク対象ページのメタデータ取得を提供する。
// バックエンドのメタデータAPIが使えない場合のローカルフォールバックとして、
// リンク保存時のタイトル・説明の補完に使用される。
package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/security"
)

const (
	// defaultTimeout はページ取得のタイムアウト。
	defaultTimeout = 10 * time.Second
	// maxBodySize は読み込むHTMLの上限サイズ。
	maxBodySize = 1 << 20 // 1MB
)

// Fetcher はページメタデータの取得器。
// ユーザー入力URLへアクセスするため、すべてのリクエストは
// SSRF防止クライアントを経由する。
type Fetcher struct {
	guard     security.URLGuard
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	timeout   time.Duration
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(guard security.URLGuard, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		guard:     guard,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		timeout:   defaultTimeout,
	}
}

// Fetch は指定URLのページからタイトル・説明・ファビコンを抽出する。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.LinkMetadata, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("URLの検証に失敗しました: %w", err)
	}

	client := f.guard.SafeClient(f.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Savlink/1.0 Bookmark Manager")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ページ取得がステータス %d を返しました", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗しました: %w", err)
	}

	meta := f.extract(doc, rawURL)
	meta.URL = rawURL
	if meta.Title == "" {
		// タイトルのないページはホスト名で代用する
		if parsed, err := url.Parse(rawURL); err == nil {
			meta.Title = parsed.Hostname()
		}
	}
	return meta, nil
}

// extract はHTMLツリーからメタデータを取り出す。
// 外部入力のテキストはすべてサニタイズしてから返す。
func (f *Fetcher) extract(doc *html.Node, baseURL string) *model.LinkMetadata {
	meta := &model.LinkMetadata{}
	var ogTitle, ogDescription, ogSiteName string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" && n.FirstChild != nil {
					meta.Title = f.clean(n.FirstChild.Data)
				}
			case "meta":
				name := attr(n, "name")
				property := attr(n, "property")
				content := attr(n, "content")
				switch {
				case name == "description" && meta.Description == "":
					meta.Description = f.clean(content)
				case property == "og:title":
					ogTitle = f.clean(content)
				case property == "og:description":
					ogDescription = f.clean(content)
				case property == "og:site_name":
					ogSiteName = f.clean(content)
				}
			case "link":
				rel := strings.ToLower(attr(n, "rel"))
				if meta.FaviconURL == "" && (rel == "icon" || rel == "shortcut icon" || rel == "apple-touch-icon") {
					meta.FaviconURL = resolveURL(baseURL, attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// OGPの値を優先する（通常こちらの方が整っている）
	if ogTitle != "" {
		meta.Title = ogTitle
	}
	if ogDescription != "" {
		meta.Description = ogDescription
	}
	meta.SiteName = ogSiteName

	if meta.FaviconURL == "" {
		meta.FaviconURL = resolveURL(baseURL, "/favicon.ico")
	}
	return meta
}

// clean は外部入力テキストからタグを除去して整形する。
func (f *Fetcher) clean(s string) string {
	return strings.TrimSpace(f.sanitizer.Sanitize(s))
}

// attr は要素の属性値を返す。存在しない場合は空文字列。
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// resolveURL は相対URLをベースURL基準で絶対URLへ解決する。
func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseParsed, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refParsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseParsed.ResolveReference(refParsed).String()
}
