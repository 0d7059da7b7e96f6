// Package authcache は認証状態のローカルキャッシュを提供する。
//
// ログイン済みユーザーとベアラートークンをキー/バリューストアに
// 保存し、プロセス起動直後にIdPの確認を待たずに楽観的なセッションを
// 復元できるようにする。鮮度の判定は2つの独立したタイマーで行う:
// 絶対保持期間（24時間）と、トークン失効5分前からの再取得警告。
package authcache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/storage"
)

const (
	// cacheKey はキャッシュレコードの保存キー。
	cacheKey = "savlink_cached_user"
	// Retention はキャッシュレコードの絶対保持期間。
	// これを超えたレコードは読み出し時に破棄される。
	Retention = 24 * time.Hour
	// TokenTTL はトークン発行時点から見た有効期限の見積もり。
	TokenTTL = 55 * time.Minute
	// RefreshBuffer は失効前の再取得警告ウィンドウ。
	// tokenExpiry - RefreshBuffer を過ぎたレコードには
	// TokenNeedsRefreshフラグが立つ。
	RefreshBuffer = 5 * time.Minute
)

// TokenSink はキャッシュ更新に連動してベアラートークンを
// 既定ヘッダとして設定する先のインターフェース。
type TokenSink interface {
	SetToken(token string)
	ClearToken()
}

// Record は永続化されるキャッシュレコード。
type Record struct {
	User         *model.User `json:"user"`
	Token        string      `json:"token"`
	Timestamp    time.Time   `json:"timestamp"`
	TokenExpiry  time.Time   `json:"token_expiry"`
	Confirmed    bool        `json:"confirmed"`
	LastVerified time.Time   `json:"last_verified,omitempty"`

	// TokenNeedsRefresh は読み出し時に導出されるフラグで、永続化されない。
	TokenNeedsRefresh bool `json:"-"`
}

// Info はキャッシュの状態を表す読み取り専用ビュー。
type Info struct {
	Cached       bool
	Timestamp    time.Time
	TokenExpiry  time.Time
	NeedsRefresh bool
	LastVerified time.Time
}

// Cache は認証キャッシュ本体。すべての操作は失敗してもpanicせず、
// 戻り値で成否を表す。
type Cache struct {
	store  *storage.SafeStore
	sink   TokenSink
	logger *slog.Logger

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// New はCacheを生成する。sinkはnil可（トークンヘッダ連動なし）。
func New(store *storage.SafeStore, sink TokenSink, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Set はユーザーとトークンからキャッシュレコードを構築して保存する。
// timestampは現在時刻、tokenExpiryは現在時刻+55分に設定される。
// トークンが空でなければ既定ベアラーヘッダにも設定する。
func (c *Cache) Set(user *model.User, token string, confirmed bool, lastVerified time.Time) bool {
	now := c.now()
	rec := Record{
		User:         user,
		Token:        token,
		Timestamp:    now,
		TokenExpiry:  now.Add(TokenTTL),
		Confirmed:    confirmed,
		LastVerified: lastVerified,
	}

	b, err := json.Marshal(rec)
	if err != nil {
		c.logger.Error("キャッシュレコードのシリアライズに失敗しました",
			slog.String("error", err.Error()),
		)
		return false
	}

	ok := c.store.SetItem(cacheKey, string(b))

	if token != "" && c.sink != nil {
		c.sink.SetToken(token)
	}

	return ok
}

// Get はキャッシュレコードを読み出す。
//   - レコードがない場合はnil
//   - 書き込みから24時間を超えたレコードは削除したうえでnil（purge-on-read）
//   - 失効5分前を過ぎたレコードはTokenNeedsRefresh=trueを立てて返す
//     （永続化された側のレコードは書き換えない）
func (c *Cache) Get() *Record {
	raw, ok := c.store.GetItem(cacheKey)
	if !ok {
		return nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.logger.Warn("キャッシュレコードの解析に失敗しました",
			slog.String("error", err.Error()),
		)
		c.Clear()
		return nil
	}

	now := c.now()

	if now.Sub(rec.Timestamp) > Retention {
		c.Clear()
		return nil
	}

	if !rec.TokenExpiry.IsZero() && now.After(rec.TokenExpiry.Add(-RefreshBuffer)) {
		rec.TokenNeedsRefresh = true
	}

	return &rec
}

// Clear はキャッシュレコードと既定ベアラーヘッダを削除する。
func (c *Cache) Clear() {
	c.store.RemoveItem(cacheKey)
	if c.sink != nil {
		c.sink.ClearToken()
	}
}

// IsValid はユーザーとトークンの両方を持つ有効なレコードが
// 存在するかどうかを返す。
func (c *Cache) IsValid() bool {
	rec := c.Get()
	return rec != nil && rec.User != nil && rec.Token != ""
}

// Info はキャッシュの状態を返す。レコードがない場合はCached=false。
func (c *Cache) Info() Info {
	rec := c.Get()
	if rec == nil {
		return Info{}
	}
	return Info{
		Cached:       true,
		Timestamp:    rec.Timestamp,
		TokenExpiry:  rec.TokenExpiry,
		NeedsRefresh: rec.TokenNeedsRefresh,
		LastVerified: rec.LastVerified,
	}
}

// SetNow はテスト用に時刻取得関数を差し替える。
func (c *Cache) SetNow(now func() time.Time) {
	c.now = now
}
