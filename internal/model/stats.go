package model

import "time"

// DashboardStats はダッシュボードの利用統計を表す。
type DashboardStats struct {
	TotalLinks    int            `json:"total_links"`
	TotalFolders  int            `json:"total_folders"`
	TotalTags     int            `json:"total_tags"`
	PinnedLinks   int            `json:"pinned_links"`
	StarredLinks  int            `json:"starred_links"`
	ArchivedLinks int            `json:"archived_links"`
	LinksThisWeek int            `json:"links_this_week"`
	TopTags       []*Tag         `json:"top_tags,omitempty"`
	TopDomains    map[string]int `json:"top_domains,omitempty"`
}

// HomeSummary はホーム画面向けのサマリーを表す。
type HomeSummary struct {
	RecentLinks  []*Link   `json:"recent_links"`
	PinnedLinks  []*Link   `json:"pinned_links"`
	Folders      []*Folder `json:"folders"`
	TotalLinks   int       `json:"total_links"`
	LastActivity time.Time `json:"last_activity"`
}

// FolderAnalytics はフォルダ単位の利用分析を表す。
type FolderAnalytics struct {
	FolderID     string         `json:"folder_id"`
	LinkCount    int            `json:"link_count"`
	ClickCount   int            `json:"click_count"`
	TagBreakdown map[string]int `json:"tag_breakdown,omitempty"`
	LastAddedAt  time.Time      `json:"last_added_at"`
}

// SearchResult は検索結果を表す。
type SearchResult struct {
	Links      []*Link `json:"links"`
	Query      string  `json:"query"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	HasMore    bool    `json:"has_more"`
}
