// Package api はSavlinkバックエンドAPIのクライアントを提供する。
// 統一レスポンスエンベロープの解釈、再試行、レート制限を含む。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/model"
)

// slowCallThreshold を超えるリクエストは警告ログを出す。
const slowCallThreshold = 10 * time.Second

// StatusError はバックエンドが返したエラーレスポンスを表す。
type StatusError struct {
	Status  int    // HTTPステータスコード
	Code    string // バックエンドのエラーコード
	Message string // バックエンドのエラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// envelope はバックエンドの統一レスポンス形式。
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client はSavlink APIのHTTPクライアント。
// ベアラートークンの保持と全リクエストへの付与を担う。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration

	mu            sync.RWMutex
	bearerToken   string
	tokenSource   func(ctx context.Context) (string, error)
	onAuthExpired func()

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.APIRateLimit > 0 {
		limit = rate.Limit(float64(cfg.APIRateLimit) / 60.0)
	}
	return &Client{
		baseURL:    cfg.APIBaseURL,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     logger,
		limiter:    rate.NewLimiter(limit, 10),
		maxRetries: cfg.APIMaxRetries,
		retryDelay: cfg.APIRetryDelay,
		now:        time.Now,
	}
}

// SetToken はベアラートークンを設定する。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// ClearToken はベアラートークンを破棄する。
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.bearerToken = ""
	c.mu.Unlock()
}

// Token は現在のベアラートークンを返す。
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

// SetTokenSource は401受信時の強制トークンリフレッシュに使うフックを設定する。
func (c *Client) SetTokenSource(fn func(ctx context.Context) (string, error)) {
	c.mu.Lock()
	c.tokenSource = fn
	c.mu.Unlock()
}

// SetAuthExpiredHandler はトークンリフレッシュも失敗した場合に呼ばれるハンドラを設定する。
func (c *Client) SetAuthExpiredHandler(fn func()) {
	c.mu.Lock()
	c.onAuthExpired = fn
	c.mu.Unlock()
}

// get はGETリクエストを送り、dataをoutへデコードする。
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// post はPOSTリクエストを送り、dataをoutへデコードする。
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, payload, out)
}

// put はPUTリクエストを送り、dataをoutへデコードする。
func (c *Client) put(ctx context.Context, path string, payload any, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, payload, out)
}

// patch はPATCHリクエストを送り、dataをoutへデコードする。
func (c *Client) patch(ctx context.Context, path string, payload any, out any) error {
	return c.do(ctx, http.MethodPatch, path, nil, payload, out)
}

// delete はDELETEリクエストを送る。
func (c *Client) delete(ctx context.Context, path string, payload any, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, payload, out)
}

// do はリクエストを実行する。ネットワークエラーと5xxは指数バックオフで再試行する。
// 4xxはバックエンドの判断なので再試行しないが、401のみトークンを
// 強制リフレッシュして1回だけ再実行する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	err := c.doWithRetry(ctx, method, path, query, payload, out)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		return err
	}
	if refreshErr := c.refreshToken(ctx); refreshErr != nil {
		return err
	}
	return c.doWithRetry(ctx, method, path, query, payload, out)
}

// refreshToken はトークンソースから強制リフレッシュしたトークンを取得して差し替える。
// リフレッシュに失敗した場合はセッション失効ハンドラへ通知する。
func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.RLock()
	source := c.tokenSource
	expired := c.onAuthExpired
	c.mu.RUnlock()
	if source == nil {
		return fmt.Errorf("トークンソースが設定されていません")
	}

	token, err := source(ctx)
	if err != nil {
		c.logger.Warn("トークンのリフレッシュに失敗しました",
			slog.String("error", err.Error()),
		)
		if expired != nil {
			expired()
		}
		return err
	}

	c.logger.Info("401応答を受けてトークンをリフレッシュしました")
	c.SetToken(token)
	return nil
}

// doWithRetry は再試行付きでリクエストを実行する。
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Info("APIリクエストを再試行します",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.doOnce(ctx, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

// doOnce はリクエストを1回実行する。
// 戻り値のretryableは呼び出し元が再試行してよいかどうかを示す。
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload any, out any) (bool, error) {
	reqURL, err := c.buildURL(method, path, query)
	if err != nil {
		return false, err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("リクエストボディのシリアライズに失敗しました: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return false, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	elapsed := c.now().Sub(start)
	if err != nil {
		c.logger.Warn("APIリクエストに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return true, model.NewTransportError(err.Error())
	}
	defer resp.Body.Close()

	if elapsed > slowCallThreshold {
		c.logger.Warn("APIリクエストの応答が遅延しています",
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("elapsed", elapsed),
		)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, model.NewTransportError(err.Error())
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return true, &StatusError{
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
		}
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return false, &StatusError{
					Status:  resp.StatusCode,
					Message: string(respBody),
				}
			}
			return false, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest || (len(respBody) > 0 && !env.Success && env.Error != nil) {
		se := &StatusError{Status: resp.StatusCode, Message: env.Message}
		if env.Error != nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return false, se
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("レスポンスデータのパースに失敗しました: %w", err)
		}
	}
	return false, nil
}

// buildURL はリクエストURLを組み立てる。
// GETにはキャッシュ回避用の_tパラメータを付与する。
func (c *Client) buildURL(method, path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("リクエストURLのパースに失敗しました: %w", err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if method == http.MethodGet {
		q.Set("_t", strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
