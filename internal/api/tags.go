package api

import (
	"context"
	"net/url"

	"github.com/savlink/savlink-go/internal/model"
)

// TagInput はタグ作成・更新の入力。
type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ListTags はタグ一覧を取得する。
func (c *Client) ListTags(ctx context.Context) ([]*model.Tag, error) {
	var tags []*model.Tag
	if err := c.get(ctx, "/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// CreateTag はタグを作成する。
func (c *Client) CreateTag(ctx context.Context, input TagInput) (*model.Tag, error) {
	var tag model.Tag
	if err := c.post(ctx, "/tags", input, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// UpdateTag はタグを更新する。
func (c *Client) UpdateTag(ctx context.Context, id string, input TagInput) (*model.Tag, error) {
	var tag model.Tag
	if err := c.put(ctx, "/tags/"+id, input, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// DeleteTag はタグを削除する。リンクからも外れる。
func (c *Client) DeleteTag(ctx context.Context, id string) error {
	return c.delete(ctx, "/tags/"+id, nil, nil)
}

// MergeTags はsourceIDsのタグをtargetIDのタグへ統合する。
func (c *Client) MergeTags(ctx context.Context, targetID string, sourceIDs []string) (*model.Tag, error) {
	var tag model.Tag
	payload := map[string]any{"source_ids": sourceIDs}
	if err := c.post(ctx, "/tags/"+targetID+"/merge", payload, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// SuggestTags はURLまたはタイトルからタグ候補を取得する。
func (c *Client) SuggestTags(ctx context.Context, target, title string) ([]string, error) {
	payload := map[string]any{"url": target, "title": title}
	var result struct {
		Tags []string `json:"tags"`
	}
	if err := c.post(ctx, "/tags/suggest", payload, &result); err != nil {
		return nil, err
	}
	return result.Tags, nil
}

// CheckTagName はタグ名の重複チェックを行う。
func (c *Client) CheckTagName(ctx context.Context, name string) (bool, error) {
	q := url.Values{"name": {name}}
	var result struct {
		Available bool `json:"available"`
	}
	if err := c.get(ctx, "/tags/check-name", q, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}
