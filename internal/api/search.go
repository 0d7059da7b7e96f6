package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/savlink/savlink-go/internal/model"
)

// SearchOptions は検索のフィルタ条件。
type SearchOptions struct {
	FolderID string
	Tags     []string
	Archived bool
	Page     int
	PerPage  int
}

// Search はリンクを全文検索する。
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*model.SearchResult, error) {
	q := url.Values{"q": {query}}
	if opts.FolderID != "" {
		q.Set("folder_id", opts.FolderID)
	}
	for _, tag := range opts.Tags {
		q.Add("tag", tag)
	}
	if opts.Archived {
		q.Set("archived", "true")
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}

	var result model.SearchResult
	if err := c.get(ctx, "/search", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
