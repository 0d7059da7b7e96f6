package api

import (
	"context"
	"net/url"

	"github.com/savlink/savlink-go/internal/model"
)

// FolderInput はフォルダ作成・更新の入力。
type FolderInput struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// MergeSuggestion は類似フォルダの統合候補を表す。
type MergeSuggestion struct {
	FolderIDs []string `json:"folder_ids"`
	Reason    string   `json:"reason"`
	Score     float64  `json:"score"`
}

// ListFolders はフォルダ一覧をフラットに取得する。
func (c *Client) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	var folders []*model.Folder
	if err := c.get(ctx, "/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// FolderTree はフォルダ階層をツリー構造で取得する。
func (c *Client) FolderTree(ctx context.Context) ([]*model.Folder, error) {
	var folders []*model.Folder
	if err := c.get(ctx, "/folders/tree", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// GetFolder はフォルダを1件取得する。
func (c *Client) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := c.get(ctx, "/folders/"+id, nil, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// CreateFolder はフォルダを作成する。
func (c *Client) CreateFolder(ctx context.Context, input FolderInput) (*model.Folder, error) {
	var folder model.Folder
	if err := c.post(ctx, "/folders", input, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// UpdateFolder はフォルダを更新する。
func (c *Client) UpdateFolder(ctx context.Context, id string, input FolderInput) (*model.Folder, error) {
	var folder model.Folder
	if err := c.put(ctx, "/folders/"+id, input, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// DeleteFolder はフォルダを削除する。中のリンクは未分類へ移動する。
func (c *Client) DeleteFolder(ctx context.Context, id string) error {
	return c.delete(ctx, "/folders/"+id, nil, nil)
}

// RestoreFolder は削除済みフォルダを復元する。
func (c *Client) RestoreFolder(ctx context.Context, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := c.patch(ctx, "/folders/"+id+"/restore", nil, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// ToggleFolderPin はフォルダのピン留め状態を切り替える。
func (c *Client) ToggleFolderPin(ctx context.Context, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := c.patch(ctx, "/folders/"+id+"/pin", nil, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// MoveFolder はフォルダを別の親の下へ移動する。
// parentIDが空の場合はルートへ移動する。
func (c *Client) MoveFolder(ctx context.Context, id, parentID string) (*model.Folder, error) {
	var folder model.Folder
	payload := map[string]any{"parent_id": parentID}
	if err := c.patch(ctx, "/folders/"+id+"/move", payload, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// FolderAnalytics はフォルダの利用分析を取得する。
func (c *Client) FolderAnalytics(ctx context.Context, id string) (*model.FolderAnalytics, error) {
	var analytics model.FolderAnalytics
	if err := c.get(ctx, "/folders/"+id+"/analytics", nil, &analytics); err != nil {
		return nil, err
	}
	return &analytics, nil
}

// FolderMergeSuggestions は類似フォルダの統合候補を取得する。
func (c *Client) FolderMergeSuggestions(ctx context.Context) ([]*MergeSuggestion, error) {
	var suggestions []*MergeSuggestion
	if err := c.get(ctx, "/folders/merge-suggestions", nil, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// CheckFolderName はフォルダ名の重複チェックを行う。
func (c *Client) CheckFolderName(ctx context.Context, name string) (bool, error) {
	q := url.Values{"name": {name}}
	var result struct {
		Available bool `json:"available"`
	}
	if err := c.get(ctx, "/folders/check-name", q, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}
