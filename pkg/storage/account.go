package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"tg_online/models"
)

// ErrTooManyAccounts возвращается при попытке добавить аккаунт сверх лимита.
var ErrTooManyAccounts = errors.Errorf("можно добавить не более %d аккаунтов", models.MaxAccounts)

// ErrAccountNotFound возвращается, когда сессия не найдена в списке.
var ErrAccountNotFound = errors.New("аккаунт не найден")

// AccountStore хранит упорядоченный список аккаунтов в JSON-файле.
// Каждое изменение сразу записывается на диск атомарно.
type AccountStore struct {
	path string

	mu       sync.Mutex
	accounts []models.Account
}

// OpenAccountStore читает файл аккаунтов. Отсутствующий файл означает пустой список.
func OpenAccountStore(path string) (*AccountStore, error) {
	s := &AccountStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read accounts file")
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.accounts); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return s, nil
}

// Path возвращает путь к файлу аккаунтов.
func (s *AccountStore) Path() string { return s.path }

// List возвращает копию списка аккаунтов.
func (s *AccountStore) List() []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Len возвращает число аккаунтов.
func (s *AccountStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// NewAccount создаёт запись с плейсхолдером вместо телефона и новым идентификатором сессии.
func NewAccount(name string) models.Account {
	return models.Account{
		Name:        name,
		Phone:       models.PhonePlaceholder,
		SessionFile: "telegram_session_" + uuid.NewString(),
	}
}

// Add добавляет аккаунт в конец списка и сохраняет файл.
func (s *AccountStore) Add(acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accounts) >= models.MaxAccounts {
		return ErrTooManyAccounts
	}
	for _, a := range s.accounts {
		if a.SessionFile == acc.SessionFile {
			return errors.Errorf("сессия %s уже используется", acc.SessionFile)
		}
	}
	next := append(append([]models.Account(nil), s.accounts...), acc)
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.accounts = next
	return nil
}

// Remove удаляет аккаунт по индексу и возвращает удалённую запись.
func (s *AccountStore) Remove(index int) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.accounts) {
		return models.Account{}, ErrAccountNotFound
	}
	removed := s.accounts[index]
	next := make([]models.Account, 0, len(s.accounts)-1)
	next = append(next, s.accounts[:index]...)
	next = append(next, s.accounts[index+1:]...)
	if err := s.writeLocked(next); err != nil {
		return models.Account{}, err
	}
	s.accounts = next
	return removed, nil
}

// UpdatePhone записывает подтверждённый номер. Побеждает последняя успешная авторизация.
func (s *AccountStore) UpdatePhone(sessionFile, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]models.Account(nil), s.accounts...)
	for i := range next {
		if next[i].SessionFile != sessionFile {
			continue
		}
		if next[i].Phone == phone {
			return nil
		}
		next[i].Phone = phone
		if err := s.writeLocked(next); err != nil {
			return err
		}
		s.accounts = next
		return nil
	}
	return ErrAccountNotFound
}

// writeLocked пишет файл через временный файл и rename, чтобы при сбое
// на диске осталась либо старая, либо новая версия.
func (s *AccountStore) writeLocked(accounts []models.Account) error {
	if accounts == nil {
		accounts = []models.Account{}
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode accounts")
	}
	return writeFileAtomic(s.path, append(data, '\n'), 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrap(err, "rename temp file")
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// WriteFileAtomic экспортирует атомарную запись для файлов сессий.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data, 0o600)
}
