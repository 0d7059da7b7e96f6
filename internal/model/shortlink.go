package model

import "time"

// ShortLink は共有用の短縮リンクを表す。
// ブックマーク本体のLinkとは独立したリソースで、スラッグ経由の
// 公開アクセスとクリック集計を持つ。
type ShortLink struct {
	ID         string            `json:"id"`
	Slug       string            `json:"slug"`
	TargetURL  string            `json:"target_url"`
	Title      string            `json:"title,omitempty"`
	Protected  bool              `json:"protected"`
	ClickLimit int               `json:"click_limit,omitempty"`
	ClickCount int               `json:"click_count"`
	UTMParams  map[string]string `json:"utm_params,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ShortLinkAnalytics は短縮リンクの期間集計を表す。
type ShortLinkAnalytics struct {
	Period       string         `json:"period"`
	TotalClicks  int            `json:"total_clicks"`
	UniqueClicks int            `json:"unique_clicks"`
	ClicksByDay  map[string]int `json:"clicks_by_day,omitempty"`
	TopReferrers map[string]int `json:"top_referrers,omitempty"`
	TopCountries map[string]int `json:"top_countries,omitempty"`
}

// ClickDetail は短縮リンクへの個別アクセスを表す。
type ClickDetail struct {
	ID        string    `json:"id"`
	Referrer  string    `json:"referrer,omitempty"`
	Country   string    `json:"country,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ClickedAt time.Time `json:"clicked_at"`
}

// ClickPage はページネーション付きのクリック履歴を表す。
type ClickPage struct {
	Clicks     []*ClickDetail `json:"clicks"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	TotalCount int            `json:"total_count"`
	HasMore    bool           `json:"has_more"`
}
