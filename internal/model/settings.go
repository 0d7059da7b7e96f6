package model

// UserSettings はユーザーごとの表示・動作設定を表す。
type UserSettings struct {
	Theme              string `json:"theme,omitempty"`
	Language           string `json:"language,omitempty"`
	DefaultFolderID    string `json:"default_folder_id,omitempty"`
	LinksPerPage       int    `json:"links_per_page,omitempty"`
	OpenInNewTab       bool   `json:"open_in_new_tab"`
	EmailNotifications bool   `json:"email_notifications"`
}

// UsageStats はアカウント全体の利用量を表す。
type UsageStats struct {
	TotalLinks      int   `json:"total_links"`
	TotalFolders    int   `json:"total_folders"`
	TotalTags       int   `json:"total_tags"`
	TotalShortLinks int   `json:"total_short_links"`
	StorageUsed     int64 `json:"storage_used"`
}
