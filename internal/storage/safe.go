package storage

import "log/slog"

// probeKey と probeValue は起動時の利用可否プローブに使うセンチネル。
const (
	probeKey   = "__storage_test__"
	probeValue = "test"
)

// Probe はストアに書き込み・読み戻し・削除を行い、利用可能かを判定する。
func Probe(s KeyValueStore) bool {
	if s == nil {
		return false
	}
	if err := s.SetItem(probeKey, probeValue); err != nil {
		return false
	}
	v, err := s.GetItem(probeKey)
	if err != nil || v != probeValue {
		return false
	}
	_ = s.RemoveItem(probeKey)
	return true
}

// SafeStore はKeyValueStoreを失敗しないAPIでラップする。
// 背後のストアが利用不可・エラーの場合でもpanicやerrorを返さず、
// 失敗を戻り値のboolで表す。ストレージ障害は警告ログに記録するだけで
// 呼び出し元の処理を妨げない。
type SafeStore struct {
	name      string
	backend   KeyValueStore
	available bool
	logger    *slog.Logger
}

// NewSafeStore はSafeStoreを生成する。生成時に1回だけプローブを行い、
// 以後の全操作はその結果に従う。backendがnilの場合は常に失敗を返す
// ストアとして振る舞う。
func NewSafeStore(name string, backend KeyValueStore, logger *slog.Logger) *SafeStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SafeStore{
		name:    name,
		backend: backend,
		logger:  logger,
	}
	s.available = Probe(backend)
	if !s.available {
		logger.Warn("ストレージが利用できません",
			slog.String("store", name),
		)
	}
	return s
}

// Available はストアが利用可能かどうかを返す。
func (s *SafeStore) Available() bool {
	return s.available
}

// SetItem は値を書き込む。失敗した場合はfalseを返す。
func (s *SafeStore) SetItem(key, value string) bool {
	if !s.available {
		return false
	}
	if err := s.backend.SetItem(key, value); err != nil {
		s.logger.Warn("ストレージへの書き込みに失敗しました",
			slog.String("store", s.name),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// GetItem は値を読み出す。存在しない・失敗した場合は ("", false)。
func (s *SafeStore) GetItem(key string) (string, bool) {
	if !s.available {
		return "", false
	}
	v, err := s.backend.GetItem(key)
	if err != nil {
		if err != ErrNotFound {
			s.logger.Warn("ストレージの読み出しに失敗しました",
				slog.String("store", s.name),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return "", false
	}
	return v, true
}

// RemoveItem はキーを削除する。失敗した場合はfalseを返す。
func (s *SafeStore) RemoveItem(key string) bool {
	if !s.available {
		return false
	}
	if err := s.backend.RemoveItem(key); err != nil {
		s.logger.Warn("ストレージからの削除に失敗しました",
			slog.String("store", s.name),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Clear は全キーを削除する。失敗した場合はfalseを返す。
func (s *SafeStore) Clear() bool {
	if !s.available {
		return false
	}
	if err := s.backend.Clear(); err != nil {
		s.logger.Warn("ストレージのクリアに失敗しました",
			slog.String("store", s.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
