package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/savlink/savlink-go/internal/model"
)

// ShortLinkInput は短縮リンク作成・更新の入力。
// 更新時はゼロ値のフィールドが送信されず、既存値が維持される。
type ShortLinkInput struct {
	TargetURL  string            `json:"target_url,omitempty"`
	Slug       string            `json:"slug,omitempty"`
	Title      string            `json:"title,omitempty"`
	UTMParams  map[string]string `json:"utm_params,omitempty"`
	ClickLimit *int              `json:"click_limit,omitempty"`
}

// ListShortLinks は短縮リンク一覧を取得する。pageが0の場合は先頭ページ。
func (c *Client) ListShortLinks(ctx context.Context, page int) ([]*model.ShortLink, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	var links []*model.ShortLink
	if err := c.get(ctx, "/shortlinks", q, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// CreateShortLink は短縮リンクを作成する。
func (c *Client) CreateShortLink(ctx context.Context, input ShortLinkInput) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := c.post(ctx, "/shortlinks", input, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// UpdateShortLink は短縮リンクを部分更新する。
// UTMパラメータやクリック上限の変更もここを通る。
func (c *Client) UpdateShortLink(ctx context.Context, id string, input ShortLinkInput) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := c.patch(ctx, "/shortlinks/"+id, input, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteShortLink は短縮リンクを削除する。
func (c *Client) DeleteShortLink(ctx context.Context, id string) error {
	return c.delete(ctx, "/shortlinks/"+id, nil, nil)
}

// ShortLinkAnalytics は短縮リンクの期間集計を取得する。
// periodが空の場合は直近7日分を取得する。
func (c *Client) ShortLinkAnalytics(ctx context.Context, id, period string) (*model.ShortLinkAnalytics, error) {
	if period == "" {
		period = "7d"
	}
	q := url.Values{"period": {period}}
	var analytics model.ShortLinkAnalytics
	if err := c.get(ctx, "/shortlinks/"+id+"/analytics", q, &analytics); err != nil {
		return nil, err
	}
	return &analytics, nil
}

// ShortLinkClicks は短縮リンクのクリック履歴を取得する。
func (c *Client) ShortLinkClicks(ctx context.Context, id string, page int) (*model.ClickPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	var clicks model.ClickPage
	if err := c.get(ctx, "/shortlinks/"+id+"/clicks", q, &clicks); err != nil {
		return nil, err
	}
	return &clicks, nil
}

// CheckSlug はスラッグの空き状況を確認する。
func (c *Client) CheckSlug(ctx context.Context, slug string) (bool, error) {
	q := url.Values{"slug": {slug}}
	var result struct {
		Available bool `json:"available"`
	}
	if err := c.get(ctx, "/shortlinks/check-slug", q, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}

// GenerateSlug は未使用のスラッグをバックエンドに生成させる。
func (c *Client) GenerateSlug(ctx context.Context) (string, error) {
	var result struct {
		Slug string `json:"slug"`
	}
	if err := c.post(ctx, "/shortlinks/generate-slug", nil, &result); err != nil {
		return "", err
	}
	return result.Slug, nil
}

// ToggleShortLinkPassword はパスワード保護を切り替える。
// 空文字を渡すと保護が解除される。
func (c *Client) ToggleShortLinkPassword(ctx context.Context, id, password string) (*model.ShortLink, error) {
	payload := map[string]any{"password": nil}
	if password != "" {
		payload["password"] = password
	}
	var link model.ShortLink
	if err := c.post(ctx, "/shortlinks/"+id+"/toggle-password", payload, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// BulkCreateShortLinks は複数の短縮リンクを一括作成する。
func (c *Client) BulkCreateShortLinks(ctx context.Context, inputs []ShortLinkInput) ([]*model.ShortLink, error) {
	payload := map[string]any{"links": inputs}
	var links []*model.ShortLink
	if err := c.post(ctx, "/shortlinks/bulk", payload, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// ExportShortLinks は短縮リンク一覧をエクスポートする。
// formatはcsvまたはjson。レスポンスの形式はフォーマット依存のため
// 生のデータとして返す。
func (c *Client) ExportShortLinks(ctx context.Context, format string) (json.RawMessage, error) {
	if format == "" {
		format = "csv"
	}
	q := url.Values{"format": {format}}
	var data json.RawMessage
	if err := c.get(ctx, "/shortlinks/export", q, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// ShortLinkQRURL はQRコード画像のURLを組み立てる。
// 画像取得自体はブラウザや外部ツールに任せるため、URLのみを返す。
func (c *Client) ShortLinkQRURL(id string, size int, format string) string {
	if size <= 0 {
		size = 200
	}
	if format == "" {
		format = "png"
	}
	q := url.Values{
		"size":   {strconv.Itoa(size)},
		"format": {format},
	}
	return c.baseURL + "/shortlinks/" + id + "/qr?" + q.Encode()
}
