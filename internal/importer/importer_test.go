package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/savlink/savlink-go/internal/api"
	"github.com/savlink/savlink-go/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// allowAllGuard はテスト用にループバックへのアクセスを許可するガード。
type allowAllGuard struct {
	validateErr error
}

func (g allowAllGuard) SafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g allowAllGuard) ValidateURL(string) error { return g.validateErr }

// fakeLinkCreator は登録されたリンクを記録するLinkCreator。
type fakeLinkCreator struct {
	mu      sync.Mutex
	created []api.CreateLinkInput
	failFor map[string]error
}

func (f *fakeLinkCreator) CreateLink(ctx context.Context, input api.CreateLinkInput) (*model.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[input.URL]; ok {
		return nil, err
	}
	f.created = append(f.created, input)
	return &model.Link{ID: "link-1", URL: input.URL, Title: input.Title}, nil
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>テストフィード</title>
<item><title>記事1</title><link>https://example.com/post1</link><description>説明1</description></item>
<item><title>記事2</title><link>https://example.com/post2</link><description>説明2</description></item>
<item><title>リンクなし記事</title><description>説明3</description></item>
</channel>
</rss>`

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
}

func TestImporter_ImportFeed(t *testing.T) {
	srv := newFeedServer(t, testFeed)
	defer srv.Close()

	var buf bytes.Buffer
	creator := &fakeLinkCreator{}
	imp := New(creator, allowAllGuard{}, newTestLogger(&buf))

	result, err := imp.ImportFeed(context.Background(), srv.URL, "folder-1", []string{"rss"})
	if err != nil {
		t.Fatalf("ImportFeed がエラーを返した: %v", err)
	}

	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	// リンクURLのない記事は失敗として集計される。
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}

	creator.mu.Lock()
	defer creator.mu.Unlock()
	if len(creator.created) != 2 {
		t.Fatalf("登録されたリンク数 = %d, want 2", len(creator.created))
	}
	first := creator.created[0]
	if first.URL != "https://example.com/post1" {
		t.Errorf("URL = %q, want https://example.com/post1", first.URL)
	}
	if first.FolderID != "folder-1" {
		t.Errorf("FolderID = %q, want folder-1", first.FolderID)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "rss" {
		t.Errorf("Tags = %v, want [rss]", first.Tags)
	}
}

func TestImporter_ImportFeed_PartialFailure(t *testing.T) {
	srv := newFeedServer(t, testFeed)
	defer srv.Close()

	var buf bytes.Buffer
	creator := &fakeLinkCreator{
		failFor: map[string]error{
			"https://example.com/post1": errors.New("backend error"),
		},
	}
	imp := New(creator, allowAllGuard{}, newTestLogger(&buf))

	result, err := imp.ImportFeed(context.Background(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("ImportFeed がエラーを返した: %v", err)
	}

	// 一部の登録失敗は全体を中断しない。
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if len(result.Errors) != 2 {
		t.Errorf("Errors = %v, want 2件", result.Errors)
	}
}

func TestImporter_ImportFeed_ValidationFailure(t *testing.T) {
	var buf bytes.Buffer
	imp := New(&fakeLinkCreator{}, allowAllGuard{validateErr: errors.New("blocked")}, newTestLogger(&buf))

	if _, err := imp.ImportFeed(context.Background(), "http://169.254.169.254/feed", "", nil); err == nil {
		t.Error("検証に失敗するURLでエラーが返らなかった")
	}
}

func TestImporter_ImportFeed_InvalidFeed(t *testing.T) {
	srv := newFeedServer(t, "これはフィードではない")
	defer srv.Close()

	var buf bytes.Buffer
	imp := New(&fakeLinkCreator{}, allowAllGuard{}, newTestLogger(&buf))

	if _, err := imp.ImportFeed(context.Background(), srv.URL, "", nil); err == nil {
		t.Error("不正なフィードでエラーが返らなかった")
	}
}

func TestImporter_ImportFeed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	imp := New(&fakeLinkCreator{}, allowAllGuard{}, newTestLogger(&buf))

	if _, err := imp.ImportFeed(context.Background(), srv.URL, "", nil); err == nil {
		t.Error("5xx応答でエラーが返らなかった")
	}
}
