package session

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"go.uber.org/zap"

	"tg_online/pkg/storage"
)

// Path возвращает путь к файлу сессии аккаунта.
func Path(dir, sessionFile string) string {
	return filepath.Join(dir, sessionFile+".session")
}

// FileStorage хранит сессию Telegram в файле. Запись атомарная.
type FileStorage struct {
	Path string
	Log  *zap.Logger
}

// LoadSession читает файл сессии.
func (s *FileStorage) LoadSession(ctx context.Context) ([]byte, error) {
	if s == nil || s.Path == "" {
		return nil, session.ErrNotFound
	}
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		s.log().Error("[SESSION] ошибка чтения сессии", zap.String("path", s.Path), zap.Error(err))
		return nil, errors.Wrap(err, "read session")
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	return data, nil
}

// StoreSession сохраняет сессию.
func (s *FileStorage) StoreSession(ctx context.Context, data []byte) error {
	if s == nil || s.Path == "" {
		return session.ErrNotFound
	}
	if err := storage.WriteFileAtomic(s.Path, data); err != nil {
		s.log().Error("[SESSION] ошибка сохранения сессии", zap.String("path", s.Path), zap.Error(err))
		return err
	}
	return nil
}

func (s *FileStorage) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// RemoveFiles удаляет файл сессии аккаунта. Отсутствие файла ошибкой не считается.
func RemoveFiles(dir, sessionFile string) error {
	if err := os.Remove(Path(dir, sessionFile)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}
