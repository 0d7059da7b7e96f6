package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/savlink/savlink-go/internal/model"
)

// ProfileInput はプロフィール更新の入力。
type ProfileInput struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profile はバックエンドに登録されたプロフィールを取得する。
func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.get(ctx, "/user/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile はプロフィールを部分更新する。
func (c *Client) UpdateProfile(ctx context.Context, input ProfileInput) (*model.User, error) {
	var user model.User
	if err := c.patch(ctx, "/user/profile", input, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UploadAvatar はアバター画像をmultipart/form-dataでアップロードする。
// JSON以外のボディを送る唯一の操作のため、通常の再試行パスを通らず
// 1回だけ実行する。
func (c *Client) UploadAvatar(ctx context.Context, filename string, data []byte) (*model.User, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("avatar", filename)
	if err != nil {
		return nil, fmt.Errorf("マルチパートボディの作成に失敗しました: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("マルチパートボディの書き込みに失敗しました: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("マルチパートボディの確定に失敗しました: %w", err)
	}

	reqURL, err := c.buildURL(http.MethodPost, "/user/avatar", nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.New().String())
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewTransportError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransportError(err.Error())
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			return nil, &StatusError{Status: resp.StatusCode, Message: string(respBody)}
		}
	}
	if resp.StatusCode >= http.StatusBadRequest || (len(respBody) > 0 && !env.Success && env.Error != nil) {
		se := &StatusError{Status: resp.StatusCode, Message: env.Message}
		if env.Error != nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return nil, se
	}

	var user model.User
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &user); err != nil {
			return nil, fmt.Errorf("レスポンスデータのパースに失敗しました: %w", err)
		}
	}
	return &user, nil
}

// DeleteAvatar はアバター画像を削除する。
func (c *Client) DeleteAvatar(ctx context.Context) error {
	return c.delete(ctx, "/user/avatar", nil, nil)
}

// Settings はユーザー設定を取得する。
func (c *Client) Settings(ctx context.Context) (*model.UserSettings, error) {
	var settings model.UserSettings
	if err := c.get(ctx, "/user/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings はユーザー設定を更新する。
func (c *Client) UpdateSettings(ctx context.Context, settings model.UserSettings) (*model.UserSettings, error) {
	var updated model.UserSettings
	if err := c.patch(ctx, "/user/settings", settings, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ChangePassword はバックエンド側のパスワードを変更する。
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	payload := map[string]string{
		"current_password": currentPassword,
		"new_password":     newPassword,
	}
	return c.post(ctx, "/user/change-password", payload, nil)
}

// UsageStats はアカウント全体の利用量を取得する。
func (c *Client) UsageStats(ctx context.Context) (*model.UsageStats, error) {
	var stats model.UsageStats
	if err := c.get(ctx, "/user/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeleteAccount はアカウントを削除する。確認のため現在のパスワードを要求する。
func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	payload := map[string]string{"password": password}
	return c.post(ctx, "/user/delete-account", payload, nil)
}
