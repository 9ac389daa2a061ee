// Package account_mutex гарантирует, что у аккаунта не больше одного живого клиента.
package account_mutex

import (
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrAccountBusy возвращается, если аккаунт уже используется другим клиентом.
var ErrAccountBusy = errors.New("аккаунт уже используется")

// Registry хранит блокировки по идентификатору сессии.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	locked map[string]struct{}
}

// New создаёт пустой реестр.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:    log,
		locks:  make(map[string]*sync.Mutex),
		locked: make(map[string]struct{}),
	}
}

// lockedIDs возвращает заблокированные сессии. Вызывается под r.mu.
func (r *Registry) lockedIDs() []string {
	ids := make([]string, 0, len(r.locked))
	for id := range r.locked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LockAccount пытается захватить аккаунт. Если он занят, возвращается ErrAccountBusy.
func (r *Registry) LockAccount(session string) error {
	r.mu.Lock()
	lock, ok := r.locks[session]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[session] = lock
	}
	r.mu.Unlock()

	if !lock.TryLock() {
		r.mu.Lock()
		current := r.lockedIDs()
		r.mu.Unlock()
		r.log.Warn("[MUTEX] аккаунт занят", zap.String("session", session), zap.Strings("locked", current))
		return errors.Wrap(ErrAccountBusy, session)
	}

	r.mu.Lock()
	r.locked[session] = struct{}{}
	current := r.lockedIDs()
	r.mu.Unlock()

	r.log.Debug("[MUTEX] аккаунт заблокирован", zap.String("session", session), zap.Strings("locked", current))
	return nil
}

// UnlockAccount освобождает аккаунт. Повторный вызов ничего не делает.
func (r *Registry) UnlockAccount(session string) {
	r.mu.Lock()
	lock := r.locks[session]
	_, held := r.locked[session]
	delete(r.locked, session)
	current := r.lockedIDs()
	r.mu.Unlock()

	if lock != nil && held {
		lock.Unlock()
		r.log.Debug("[MUTEX] аккаунт разблокирован", zap.String("session", session), zap.Strings("locked", current))
	}
}

// Locked возвращает список занятых аккаунтов.
func (r *Registry) Locked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedIDs()
}
