package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/savlink/savlink-go/internal/model"
)

// Health はバックエンドの疎通確認を行う。
// ウォームアップピンガーから短いタイムアウト付きで呼ばれる。
func (c *Client) Health(ctx context.Context) error {
	reqURL, err := c.buildURL(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ヘルスチェックがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

// whoAmIData は/auth/meのレスポンスデータ。
type whoAmIData struct {
	User *model.User `json:"user"`
}

// WhoAmI は現在のトークンでバックエンドの認証状態を確認する。
// 4xxはバックエンドの判断として受け入れ、ステータスコードと共に返す。
// 5xxとネットワークエラーのみerrorとして返す。
// tokenOverrideが空でない場合は保持中のトークンの代わりに使用する。
func (c *Client) WhoAmI(ctx context.Context, tokenOverride string) (*model.User, int, error) {
	reqURL, err := c.buildURL(http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	token := tokenOverride
	if token == "" {
		token = c.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, model.NewTransportError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, model.NewTransportError(err.Error())
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, resp.StatusCode, &StatusError{
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	var data whoAmIData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("レスポンスデータのパースに失敗しました: %w", err)
		}
	}
	return data.User, resp.StatusCode, nil
}
