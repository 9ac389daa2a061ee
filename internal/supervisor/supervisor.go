// Package supervisor запускает все аккаунты из хранилища: держит их «в сети»,
// отмечает входящие прочитанными и передаёт их боту-компаньону.
package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tg_online/internal/config"
	"tg_online/models"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/account_mutex"
	"tg_online/pkg/telegram/bot"
	"tg_online/pkg/telegram/presence"
	"tg_online/pkg/telegram/readack"
	"tg_online/pkg/telegram/relay"
	"tg_online/pkg/telegram/session"
)

const (
	botStartRetries   = 5
	connectMaxBackoff = time.Minute
)

// ErrNoAccounts возвращается, когда в хранилище нет ни одного аккаунта.
var ErrNoAccounts = errors.New("нет сохранённых аккаунтов, запустите настройку")

// AuthError сообщает, что аккаунт не авторизован или потерял авторизацию.
// Такой аккаунт выбывает из работы, остальные продолжают.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return "account " + e.Account + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Store объединяет то, что relay и команды бота требуют от хранилища.
type Store interface {
	relay.Store
	bot.HistoryStore
}

// Options перечисляет зависимости супервизора.
type Options struct {
	Config   *config.Config
	Accounts *storage.AccountStore
	Store    Store
	Locks    *account_mutex.Registry
	Logger   *zap.Logger
	// NewBot создаёт бота. По умолчанию используется bot.New с токеном из конфигурации.
	NewBot func(ctx context.Context) (*bot.Bot, error)
}

// AccountStatus содержит снимок работающего аккаунта.
type AccountStatus struct {
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Session   string         `json:"session_file"`
	UserID    int64          `json:"user_id"`
	Connected bool           `json:"connected"`
	Started   time.Time      `json:"started"`
	Heartbeat presence.Stats `json:"heartbeat"`
}

type activeAccount struct {
	client    *session.Client
	heartbeat *presence.Heartbeat
	started   time.Time
}

// Supervisor владеет клиентами аккаунтов и ботом.
type Supervisor struct {
	cfg      *config.Config
	accounts *storage.AccountStore
	store    Store
	locks    *account_mutex.Registry
	log      *zap.Logger
	newBot   func(ctx context.Context) (*bot.Bot, error)
	cascade  *readack.Cascade
	relay    *relaySlot

	mu     sync.RWMutex
	active map[string]*activeAccount
	bot    *bot.Bot
}

// New собирает супервизор.
func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	locks := opts.Locks
	if locks == nil {
		locks = account_mutex.New(log)
	}
	s := &Supervisor{
		cfg:      opts.Config,
		accounts: opts.Accounts,
		store:    opts.Store,
		locks:    locks,
		log:      log,
		newBot:   opts.NewBot,
		cascade:  readack.New(log),
		relay:    &relaySlot{},
		active:   make(map[string]*activeAccount),
	}
	if s.newBot == nil {
		s.newBot = s.defaultBot
	}
	return s
}

func (s *Supervisor) defaultBot(context.Context) (*bot.Bot, error) {
	return bot.New(s.cfg.BotToken, bot.Options{
		AdminID:     s.cfg.AdminID,
		CopyTimeout: s.cfg.RelayCopyTimeout,
		History:     s.store,
		Logger:      s.log.Named("bot"),
	})
}

// Run работает до отмены контекста. Сбой одного аккаунта не затрагивает
// остальные. При остановке бот закрывается после всех аккаунтов.
func (s *Supervisor) Run(ctx context.Context) error {
	accounts := s.accounts.List()
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	s.log.Info("[SUPERVISOR] запуск аккаунтов", zap.Int("count", len(accounts)))

	botCtx, stopBot := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBot()
	botDone := make(chan error, 1)
	go func() { botDone <- s.runBot(ctx, botCtx) }()

	var g errgroup.Group
	for _, acc := range accounts {
		g.Go(func() error {
			if err := s.runAccount(ctx, acc); err != nil {
				s.log.Error("[SUPERVISOR] аккаунт выбыл из работы",
					zap.String("account", acc.Name), zap.Error(err))
			}
			return nil
		})
	}
	err := g.Wait()

	stopBot()
	err = multierr.Append(err, <-botDone)
	s.log.Info("[SUPERVISOR] остановлен")
	return err
}

// runBot подключает бота с повторами. Пока бота нет, relay отвечает
// отказом, аккаунты при этом остаются «в сети».
func (s *Supervisor) runBot(ctx, botCtx context.Context) error {
	var b *bot.Bot
	op := func() error {
		var err error
		b, err = s.newBot(ctx)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), botStartRetries), ctx)
	err := backoff.RetryNotify(op, bo, func(err error, d time.Duration) {
		s.log.Warn("[BOT] не удалось подключить бота, повтор", zap.Duration("after", d), zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.log.Error("[BOT] бот недоступен, уведомления отключены", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.bot = b
	s.mu.Unlock()
	s.relay.set(relay.New(b, s.store, relay.Options{
		AdminID:   s.cfg.AdminID,
		IsIgnored: s.cfg.IsIgnored,
		Logger:    s.log.Named("relay"),
	}))
	return b.Run(botCtx)
}

func (s *Supervisor) sessionOptions() session.Options {
	opts := session.Options{
		APIID:         s.cfg.APIID,
		APIHash:       s.cfg.APIHash,
		Dir:           s.cfg.SessionsDir,
		PeerCacheSize: s.cfg.PeerCacheSize,
		Logger:        s.log.Named("session"),
		OnPhoneChanged: func(acc models.Account) error {
			return s.accounts.UpdatePhone(acc.SessionFile, acc.Phone)
		},
	}
	if s.cfg.UseProxy {
		opts.Proxy = s.cfg.ProxyConfig()
	}
	return opts
}

// connect повторяет подключение с нарастающей паузой до успеха или отмены.
func (s *Supervisor) connect(ctx context.Context, client *session.Client, log *zap.Logger) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxInterval = connectMaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return client.Connect(ctx)
	}, backoff.WithContext(eb, ctx), func(err error, d time.Duration) {
		log.Warn("[SESSION] подключение не удалось, повтор", zap.Duration("after", d), zap.Error(err))
	})
}

func (s *Supervisor) runAccount(ctx context.Context, acc models.Account) error {
	log := s.log.With(zap.String("account", acc.Name), zap.String("session", acc.SessionFile))

	if err := s.locks.LockAccount(acc.SessionFile); err != nil {
		return err
	}
	defer s.locks.UnlockAccount(acc.SessionFile)

	client, err := session.New(acc, s.sessionOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Warn("[SESSION] ошибка при отключении", zap.Error(err))
		}
	}()

	if err := s.connect(ctx, client, log); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		return &AuthError{Account: acc.Name, Err: err}
	}
	if !authorized {
		return &AuthError{Account: acc.Name, Err: errors.New("сессия не авторизована, запустите с --setup")}
	}

	cached := client.CacheDialogs(ctx, s.cfg.DialogsLimit)
	log.Info("[SESSION] аккаунт готов", zap.Int64("user_id", client.SelfID()), zap.Int("dialogs", cached))

	hb := presence.New(client, presence.Options{
		Interval: s.cfg.HeartbeatInterval,
		Logger:   log.Named("presence"),
	})
	s.setActive(acc.SessionFile, &activeAccount{client: client, heartbeat: hb, started: time.Now()})
	defer s.removeActive(acc.SessionFile)

	r := &router{
		client:  client,
		cascade: s.cascade,
		relay:   s.relay,
		skips:   s.cfg.IsIgnored,
		timeout: s.cfg.RelayTimeout,
		log:     log,
	}
	routerCtx, stopRouter := context.WithCancel(ctx)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		r.run(routerCtx, client.Messages())
	}()

	err = hb.Run(ctx)
	stopRouter()
	<-routerDone

	if errors.Is(err, presence.ErrAuthRevoked) {
		return &AuthError{Account: acc.Name, Err: err}
	}
	return err
}

func (s *Supervisor) setActive(id string, a *activeAccount) {
	s.mu.Lock()
	s.active[id] = a
	s.mu.Unlock()
}

func (s *Supervisor) removeActive(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// BotUsername возвращает username бота или пустую строку, если бот не подключён.
func (s *Supervisor) BotUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bot == nil {
		return ""
	}
	return s.bot.Username()
}

// Active возвращает работающие аккаунты, отсортированные по имени.
func (s *Supervisor) Active() []AccountStatus {
	s.mu.RLock()
	out := make([]AccountStatus, 0, len(s.active))
	for _, a := range s.active {
		acc := a.client.Account()
		out = append(out, AccountStatus{
			Name:      acc.Name,
			Phone:     acc.Phone,
			Session:   acc.SessionFile,
			UserID:    a.client.SelfID(),
			Connected: a.client.IsConnected(),
			Started:   a.started,
			Heartbeat: a.heartbeat.Stats(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
