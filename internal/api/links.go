package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/savlink/savlink-go/internal/model"
)

// ListLinksOptions はリンク一覧取得のフィルタ条件。
type ListLinksOptions struct {
	Page     int
	PerPage  int
	FolderID string
	Tag      string
	Archived bool
	Pinned   bool
	Starred  bool
	Sort     string
}

// CreateLinkInput はリンク作成の入力。
type CreateLinkInput struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	FolderID    string   `json:"folder_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdateLinkInput はリンク更新の入力。nilのフィールドは変更しない。
type UpdateLinkInput struct {
	URL         *string   `json:"url,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	FolderID    *string   `json:"folder_id,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Starred     *bool     `json:"starred,omitempty"`
}

// ListLinks はリンク一覧を取得する。
func (c *Client) ListLinks(ctx context.Context, opts ListLinksOptions) (*model.LinkPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.FolderID != "" {
		q.Set("folder_id", opts.FolderID)
	}
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.Archived {
		q.Set("archived", "true")
	}
	if opts.Pinned {
		q.Set("pinned", "true")
	}
	if opts.Starred {
		q.Set("starred", "true")
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}

	var page model.LinkPage
	if err := c.get(ctx, "/links", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetLink はリンクを1件取得する。
func (c *Client) GetLink(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := c.get(ctx, "/links/"+id, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// CreateLink はリンクを作成する。
func (c *Client) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	var link model.Link
	if err := c.post(ctx, "/links", input, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// UpdateLink はリンクを更新する。
func (c *Client) UpdateLink(ctx context.Context, id string, input UpdateLinkInput) (*model.Link, error) {
	var link model.Link
	if err := c.put(ctx, "/links/"+id, input, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteLink はリンクを削除する。
func (c *Client) DeleteLink(ctx context.Context, id string) error {
	return c.delete(ctx, "/links/"+id, nil, nil)
}

// PinLink はリンクをピン留めする。
func (c *Client) PinLink(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := c.patch(ctx, "/links/"+id+"/pin", nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// UnpinLink はリンクのピン留めを解除する。
func (c *Client) UnpinLink(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := c.patch(ctx, "/links/"+id+"/unpin", nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// ArchiveLink はリンクをアーカイブする。
func (c *Client) ArchiveLink(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := c.patch(ctx, "/links/"+id+"/archive", nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// RestoreLink はアーカイブ済みリンクを復元する。
func (c *Client) RestoreLink(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := c.patch(ctx, "/links/"+id+"/restore", nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// BulkDeleteLinks は複数のリンクを一括削除する。
func (c *Client) BulkDeleteLinks(ctx context.Context, ids []string) error {
	return c.post(ctx, "/links/bulk-delete", map[string]any{"ids": ids}, nil)
}

// BulkArchiveLinks は複数のリンクを一括アーカイブする。
func (c *Client) BulkArchiveLinks(ctx context.Context, ids []string) error {
	return c.post(ctx, "/links/bulk-archive", map[string]any{"ids": ids}, nil)
}

// FetchMetadata はバックエンド経由でURLのページメタデータを取得する。
func (c *Client) FetchMetadata(ctx context.Context, target string) (*model.LinkMetadata, error) {
	var meta model.LinkMetadata
	if err := c.post(ctx, "/tools/fetch-metadata", map[string]any{"url": target}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
