package model

import "time"

// Link は保存されたリンク（ブックマーク）を表す。
// バックエンドが返すペイロードの写像であり、クライアント側で
// 加工せずにそのまま受け渡しする。
type Link struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	FolderID    string    `json:"folder_id,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Pinned      bool      `json:"pinned"`
	Starred     bool      `json:"starred"`
	Archived    bool      `json:"archived"`
	ClickCount  int       `json:"click_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LinkMetadata はURLから取得したページメタデータを表す。
// バックエンドの /api/tools/fetch-metadata とローカルフォールバックの
// 両方が同じ形を返す。
type LinkMetadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FaviconURL  string `json:"favicon_url,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// Folder はリンクを整理するフォルダを表す。
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	Color     string    `json:"color,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Pinned    bool      `json:"pinned"`
	LinkCount int       `json:"link_count"`
	Children  []*Folder `json:"children,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag はリンクに付与するタグを表す。
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	LinkCount int       `json:"link_count"`
	CreatedAt time.Time `json:"created_at"`
}

// LinkPage はページネーション付きのリンク一覧を表す。
type LinkPage struct {
	Links      []*Link `json:"links"`
	Page       int     `json:"page"`
	PerPage    int     `json:"per_page"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}
