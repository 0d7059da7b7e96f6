package app

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/savlink/savlink-go/internal/config"
	"github.com/savlink/savlink-go/internal/metrics"
	"github.com/savlink/savlink-go/internal/model"
	"github.com/savlink/savlink-go/internal/session"
)

func testBuildConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		APIBaseURL:           "http://backend.test",
		IdentityAPIKey:       "test-key",
		APITimeout:           5 * time.Second,
		VerifyInterval:       time.Hour,
		VerifyTimeout:        time.Second,
		TokenRefreshInterval: time.Hour,
		PostLoginSyncDelay:   10 * time.Millisecond,
		WarmupTimeout:        time.Second,
		WarmupInterval:       time.Hour,
		DataDir:              t.TempDir(),
		Env:                  "development",
	}
}

func TestBuild_WiresDependencies(t *testing.T) {
	var out bytes.Buffer
	d, err := build(testBuildConfig(t), &out, metrics.Nop{}, session.NopSink{})
	if err != nil {
		t.Fatalf("build がエラーを返した: %v", err)
	}
	if d.client == nil || d.manager == nil || d.fetcher == nil || d.importer == nil {
		t.Error("依存関係が欠けている")
	}
}

func TestReportResult(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		var out bytes.Buffer
		result := model.OKResult(&model.AuthData{
			Session: &model.Session{User: &model.User{Name: "テスト", Email: "t@example.com"}},
			Token:   "token",
		}, "ログインしました。")
		if err := reportResult(&out, result); err != nil {
			t.Fatalf("reportResult がエラーを返した: %v", err)
		}
		if !strings.Contains(out.String(), "ログインしました。") {
			t.Errorf("出力 = %q", out.String())
		}
		if !strings.Contains(out.String(), "t@example.com") {
			t.Errorf("出力にユーザー情報がない: %q", out.String())
		}
	})

	t.Run("キャンセル", func(t *testing.T) {
		var out bytes.Buffer
		if err := reportResult(&out, model.CancelledResult()); err != nil {
			t.Fatalf("キャンセルはエラーにならない: %v", err)
		}
		if !strings.Contains(out.String(), "キャンセル") {
			t.Errorf("出力 = %q", out.String())
		}
	})

	t.Run("失敗", func(t *testing.T) {
		var out bytes.Buffer
		result := model.ErrResult(model.NewAuthError(model.AuthCodeWrongPassword))
		if err := reportResult(&out, result); err == nil {
			t.Error("失敗結果でエラーが返らなかった")
		}
	})
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	if err := printJSON(&out, map[string]any{"key": "値"}); err != nil {
		t.Fatalf("printJSON がエラーを返した: %v", err)
	}
	if !strings.Contains(out.String(), `"key": "値"`) {
		t.Errorf("出力 = %q", out.String())
	}
}

func TestPrintFolderTree(t *testing.T) {
	var out bytes.Buffer
	printFolderTree(&out, []*model.Folder{
		{
			ID: "f1", Name: "技術", LinkCount: 3,
			Children: []*model.Folder{
				{ID: "f2", Name: "Go", LinkCount: 1},
			},
		},
	}, 0)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("行数 = %d, want 2: %q", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "技術") {
		t.Errorf("1行目 = %q", lines[0])
	}
	// 子フォルダはインデントされる。
	if !strings.HasPrefix(lines[1], "  Go") {
		t.Errorf("2行目 = %q", lines[1])
	}
}

func TestRunHealthcheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("リスナーの作成に失敗した: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	t.Setenv("SAVLINK_AGENT_PORT", strconv.Itoa(port))

	if err := runHealthcheck(); err != nil {
		t.Errorf("runHealthcheck がエラーを返した: %v", err)
	}
}

func TestRunHealthcheck_AgentDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("リスナーの作成に失敗した: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	t.Setenv("SAVLINK_AGENT_PORT", strconv.Itoa(port))

	if err := runHealthcheck(); err == nil {
		t.Error("エージェント停止中にエラーが返らなかった")
	}
}
