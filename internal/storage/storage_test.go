package storage

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestFileStore_SetGetRemove(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore がエラーを返した: %v", err)
	}

	if err := fs.SetItem("key1", "value1"); err != nil {
		t.Fatalf("SetItem がエラーを返した: %v", err)
	}

	v, err := fs.GetItem("key1")
	if err != nil {
		t.Fatalf("GetItem がエラーを返した: %v", err)
	}
	if v != "value1" {
		t.Errorf("GetItem = %q, want %q", v, "value1")
	}

	if err := fs.RemoveItem("key1"); err != nil {
		t.Fatalf("RemoveItem がエラーを返した: %v", err)
	}

	if _, err := fs.GetItem("key1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("削除後の GetItem のエラー = %v, want ErrNotFound", err)
	}
}

func TestFileStore_GetItem_NotFound(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore がエラーを返した: %v", err)
	}

	if _, err := fs.GetItem("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("存在しないキーの GetItem のエラー = %v, want ErrNotFound", err)
	}
}

func TestFileStore_Clear(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore がエラーを返した: %v", err)
	}

	_ = fs.SetItem("a", "1")
	_ = fs.SetItem("b", "2")

	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear がエラーを返した: %v", err)
	}

	if _, err := fs.GetItem("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Clear 後にキーが残っている: %v", err)
	}
}

func TestMemoryStore_SetGetRemove(t *testing.T) {
	ms := NewMemoryStore()

	if err := ms.SetItem("key", "value"); err != nil {
		t.Fatalf("SetItem がエラーを返した: %v", err)
	}

	v, err := ms.GetItem("key")
	if err != nil || v != "value" {
		t.Errorf("GetItem = (%q, %v), want (%q, nil)", v, err, "value")
	}

	if err := ms.RemoveItem("key"); err != nil {
		t.Fatalf("RemoveItem がエラーを返した: %v", err)
	}
	if _, err := ms.GetItem("key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("削除後の GetItem のエラー = %v, want ErrNotFound", err)
	}
}

func TestProbe_MemoryStore(t *testing.T) {
	if !Probe(NewMemoryStore()) {
		t.Error("MemoryStore のプローブは成功しなければならない")
	}
}

func TestProbe_NilStore(t *testing.T) {
	if Probe(nil) {
		t.Error("nil ストアのプローブは失敗しなければならない")
	}
}

// failingStore は常にエラーを返すKeyValueStore。ストレージ障害の模擬に使う。
type failingStore struct{}

func (failingStore) SetItem(key, value string) error { return errors.New("storage failure") }
func (failingStore) GetItem(key string) (string, error) {
	return "", errors.New("storage failure")
}
func (failingStore) RemoveItem(key string) error { return errors.New("storage failure") }
func (failingStore) Clear() error                { return errors.New("storage failure") }

func TestSafeStore_AvailableBackend(t *testing.T) {
	var buf bytes.Buffer
	s := NewSafeStore("test", NewMemoryStore(), newTestLogger(&buf))

	if !s.Available() {
		t.Fatal("MemoryStore を背後に持つ SafeStore は利用可能でなければならない")
	}
	if !s.SetItem("k", "v") {
		t.Error("SetItem は true を返さなければならない")
	}
	v, ok := s.GetItem("k")
	if !ok || v != "v" {
		t.Errorf("GetItem = (%q, %v), want (%q, true)", v, ok, "v")
	}
}

func TestSafeStore_UnavailableBackend(t *testing.T) {
	var buf bytes.Buffer
	s := NewSafeStore("broken", failingStore{}, newTestLogger(&buf))

	// プローブに失敗したストアはすべての操作が失敗を返す。panicしない。
	if s.Available() {
		t.Error("プローブに失敗したストアは利用不可でなければならない")
	}
	if s.SetItem("k", "v") {
		t.Error("利用不可ストアの SetItem は false を返さなければならない")
	}
	if _, ok := s.GetItem("k"); ok {
		t.Error("利用不可ストアの GetItem は false を返さなければならない")
	}
	if s.RemoveItem("k") {
		t.Error("利用不可ストアの RemoveItem は false を返さなければならない")
	}
}

func TestSafeStore_NilBackend(t *testing.T) {
	var buf bytes.Buffer
	s := NewSafeStore("nil", nil, newTestLogger(&buf))

	if s.Available() {
		t.Error("nil バックエンドのストアは利用不可でなければならない")
	}
	if s.SetItem("k", "v") {
		t.Error("nil バックエンドの SetItem は false を返さなければならない")
	}
}
