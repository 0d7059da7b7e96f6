// Package storage はクライアント側の永続キー/バリューストアを提供する。
//
// ブラウザのlocalStorage/sessionStorageに相当する2系統の保存先を
// ファイルベースで実装する。local層はユーザー設定ディレクトリ配下に
// 置かれ再起動後も残る。session層はOSのテンポラリディレクトリ配下に
// 置かれ、プロセスをまたいでも短命であることを期待する。
// どちらも利用できない環境ではインメモリ層にフォールバックする。
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// PersistenceMode は認証情報の保持期間を表す。
type PersistenceMode string

const (
	// ModeLocal は再起動後も認証情報を保持する。
	ModeLocal PersistenceMode = "local"
	// ModeSession は一時ディレクトリにのみ保持する。
	ModeSession PersistenceMode = "session"
	// ModeMemory はプロセスの生存期間のみ保持する。
	ModeMemory PersistenceMode = "memory"
)

// ErrNotFound はキーが存在しない場合に返される。
var ErrNotFound = errors.New("storage: key not found")

// KeyValueStore はキー/バリューストアのインターフェース。
type KeyValueStore interface {
	SetItem(key, value string) error
	// GetItem はキーに対応する値を返す。存在しない場合はErrNotFound。
	GetItem(key string) (string, error)
	RemoveItem(key string) error
	// Clear はストア内の全キーを削除する。
	Clear() error
}

// FileStore はディレクトリ配下のファイルにキー/バリューを保存する。
// 1キー = 1ファイル。値はそのまま書き込む（呼び出し側がJSON化する）。
type FileStore struct {
	dir string
}

// NewFileStore はFileStoreを生成する。ディレクトリがなければ作成する。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Dir はストアのディレクトリパスを返す。
func (s *FileStore) Dir() string {
	return s.dir
}

// SetItem はキーに値を書き込む。
func (s *FileStore) SetItem(key, value string) error {
	return os.WriteFile(s.path(key), []byte(value), 0o600)
}

// GetItem はキーの値を読み出す。
func (s *FileStore) GetItem(key string) (string, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(b), nil
}

// RemoveItem はキーを削除する。存在しないキーの削除はエラーにしない。
func (s *FileStore) RemoveItem(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear はストア内の全ファイルを削除する。
func (s *FileStore) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

// MemoryStore はプロセス内メモリのみに保持するストア。
// ファイルストアが利用できない環境での最終フォールバック。
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

// SetItem はキーに値を書き込む。
func (s *MemoryStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// GetItem はキーの値を読み出す。
func (s *MemoryStore) GetItem(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// RemoveItem はキーを削除する。
func (s *MemoryStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Clear は全キーを削除する。
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]string)
	return nil
}

// DefaultLocalDir はlocal層のデフォルトディレクトリを返す。
func DefaultLocalDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "savlink"), nil
}

// DefaultSessionDir はsession層のデフォルトディレクトリを返す。
func DefaultSessionDir() string {
	return filepath.Join(os.TempDir(), "savlink-session")
}

// compile-time interface checks
var _ KeyValueStore = (*FileStore)(nil)
var _ KeyValueStore = (*MemoryStore)(nil)
