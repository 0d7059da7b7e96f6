package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/savlink/savlink-go/internal/model"
)

// DashboardLinks はダッシュボード表示用の最近のリンクを取得する。
func (c *Client) DashboardLinks(ctx context.Context, limit int) ([]*model.Link, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var links []*model.Link
	if err := c.get(ctx, "/dashboard/links", q, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// DashboardStats は利用統計を取得する。
func (c *Client) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	var stats model.DashboardStats
	if err := c.get(ctx, "/dashboard/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HomeSummary はホーム画面向けのサマリーを取得する。
func (c *Client) HomeSummary(ctx context.Context) (*model.HomeSummary, error) {
	var summary model.HomeSummary
	if err := c.get(ctx, "/dashboard/home", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
