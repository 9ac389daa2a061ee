// Package session держит одно соединение MTProto для одного аккаунта:
// подключение, авторизацию, кэш диалогов и низкоуровневые запросы.
package session

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"tg_online/models"
)

const (
	DefaultDialogsLimit = 100
	eventsBuffer        = 64
)

// Options задаёт параметры клиента, общие для всех аккаунтов.
type Options struct {
	APIID   int
	APIHash string
	// Dir указывает каталог файлов сессий.
	Dir string
	// Proxy включает SOCKS5. При nil подключение прямое.
	Proxy         *models.Proxy
	PeerCacheSize int
	Logger        *zap.Logger
	// OnPhoneChanged вызывается, когда после авторизации номер отличается от сохранённого.
	OnPhoneChanged func(acc models.Account) error
}

// Client держит соединение одного аккаунта. Сам gotd-клиент пересоздаётся
// при каждом Connect, кэш пиров и канал событий живут всё время.
type Client struct {
	opts    Options
	log     *zap.Logger
	session string
	known   *peerCache
	events  chan models.IncomingMessage

	mu      sync.Mutex
	acc     models.Account
	client  *telegram.Client
	api     *tg.Client
	peers   *peers.Manager
	stop    func() error
	byLogin map[string]tg.InputPeerClass

	connected atomic.Bool
	selfID    atomic.Int64
}

// New создаёт клиент, не подключаясь к Telegram.
func New(acc models.Account, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	known, err := newPeerCache(opts.PeerCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:    opts,
		log:     log.With(zap.String("account", acc.Name), zap.String("session", acc.SessionFile)),
		session: acc.SessionFile,
		known:   known,
		events:  make(chan models.IncomingMessage, eventsBuffer),
		acc:     acc,
		byLogin: make(map[string]tg.InputPeerClass),
	}, nil
}

// Account возвращает текущую запись аккаунта.
func (c *Client) Account() models.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc
}

// SelfID возвращает Telegram ID аккаунта, известный после проверки авторизации.
func (c *Client) SelfID() int64 { return c.selfID.Load() }

// IsConnected сообщает, работает ли сейчас соединение.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Messages возвращает поток входящих личных сообщений в порядке получения.
func (c *Client) Messages() <-chan models.IncomingMessage { return c.events }

// build вызывается под c.mu.
func (c *Client) build() (*telegram.Client, *tg.Client, *peers.Manager, error) {
	dispatcher := tg.NewUpdateDispatcher()
	var handler telegram.UpdateHandler = dispatcher

	opts := telegram.Options{
		Logger:         c.log.Named("gotd"),
		SessionStorage: &FileStorage{Path: Path(c.opts.Dir, c.session), Log: c.log},
		UpdateHandler: telegram.UpdateHandlerFunc(func(ctx context.Context, u tg.UpdatesClass) error {
			return handler.Handle(ctx, u)
		}),
	}
	if p := c.opts.Proxy; p != nil {
		resolver, err := socks5Resolver(p)
		if err != nil {
			return nil, nil, nil, err
		}
		opts.Resolver = resolver
		c.log.Info("[PROXY] подключение через SOCKS5", zap.String("addr", p.Addr))
	}

	client := telegram.NewClient(c.opts.APIID, c.opts.APIHash, opts)
	api := client.API()
	manager := peers.Options{Logger: c.log.Named("peers")}.Build(api)
	handler = manager.UpdateHook(dispatcher)
	dispatcher.OnNewMessage(c.onNewMessage)
	return client, api, manager, nil
}

func socks5Resolver(p *models.Proxy) (dcs.Resolver, error) {
	var creds *proxy.Auth
	if p.Login != "" || p.Password != "" {
		creds = &proxy.Auth{User: p.Login, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", p.Addr, creds, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "proxy dialer")
	}
	dc, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("proxy dialer missing context")
	}
	return dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext}), nil
}

// Connect поднимает соединение в фоне и ждёт его инициализации.
// Сетевые сбои возвращаются как *ConnectionError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}
	if c.stop != nil {
		// Предыдущий запуск уже завершился сам, освобождаем его.
		_ = c.stop()
		c.stop = nil
	}

	client, api, manager, err := c.build()
	if err != nil {
		return &ConnectionError{Account: c.session, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	initDone := make(chan struct{})
	exit := make(chan error, 1)

	go func() {
		defer close(exit)
		err := client.Run(runCtx, func(ctx context.Context) error {
			c.connected.Store(true)
			close(initDone)
			<-ctx.Done()
			return nil
		})
		c.connected.Store(false)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("соединение завершилось с ошибкой", zap.Error(err))
		}
		exit <- err
	}()

	var once sync.Once
	var stopErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			stopErr = <-exit
			if errors.Is(stopErr, context.Canceled) {
				stopErr = nil
			}
		})
		return stopErr
	}

	select {
	case <-initDone:
	case err := <-exit:
		cancel()
		if err == nil {
			err = errors.New("connection closed during startup")
		}
		return &ConnectionError{Account: c.session, Err: err}
	case <-ctx.Done():
		_ = stop()
		return &ConnectionError{Account: c.session, Err: ctx.Err()}
	}

	c.client, c.api, c.peers, c.stop = client, api, manager, stop
	c.byLogin = make(map[string]tg.InputPeerClass)
	c.log.Info("соединение установлено")
	return nil
}

// Disconnect закрывает соединение и ждёт остановки фоновой горутины.
// Повторный вызов и вызов без Connect безопасны.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return nil
	}
	err := c.stop()
	c.stop = nil
	c.connected.Store(false)
	c.log.Info("соединение закрыто")
	return err
}

func (c *Client) live() (*telegram.Client, *tg.Client, *peers.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.connected.Load() {
		return nil, nil, nil, ErrNotConnected
	}
	return c.client, c.api, c.peers, nil
}

// IsAuthorized проверяет сохранённую авторизацию и запоминает ID аккаунта.
func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	client, _, _, err := c.live()
	if err != nil {
		return false, err
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, errors.Wrap(err, "auth status")
	}
	if status.Authorized && status.User != nil {
		c.selfID.Store(status.User.ID)
	}
	return status.Authorized, nil
}

// Authenticate выполняет интерактивный вход, если сессия не авторизована.
// После входа номер аккаунта обновляется: побеждает последняя успешная авторизация.
func (c *Client) Authenticate(ctx context.Context, authenticator auth.UserAuthenticator) error {
	client, _, _, err := c.live()
	if err != nil {
		return err
	}
	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return errors.Wrap(err, "auth flow")
	}

	self, err := client.Self(ctx)
	if err != nil {
		return errors.Wrap(err, "get self")
	}
	c.selfID.Store(self.ID)
	c.log.Info("аккаунт авторизован", zap.Int64("user_id", self.ID))

	if self.Phone == "" {
		return nil
	}
	c.mu.Lock()
	changed := c.acc.Phone != self.Phone
	if changed {
		c.acc.Phone = self.Phone
	}
	acc := c.acc
	c.mu.Unlock()

	if changed && c.opts.OnPhoneChanged != nil {
		if err := c.opts.OnPhoneChanged(acc); err != nil {
			return errors.Wrap(err, "save phone")
		}
	}
	return nil
}

// CacheDialogs загружает диалоги, чтобы последующие обращения к пирам
// не требовали отдельных запросов. Ошибка только логируется.
func (c *Client) CacheDialogs(ctx context.Context, limit int) int {
	_, api, manager, err := c.live()
	if err != nil {
		c.log.Warn("кэширование диалогов пропущено", zap.Error(err))
		return 0
	}
	if limit <= 0 {
		limit = DefaultDialogsLimit
	}

	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		c.log.Warn("не удалось загрузить диалоги", zap.Error(err))
		return 0
	}

	var (
		users []tg.UserClass
		chats []tg.ChatClass
	)
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		users, chats = d.Users, d.Chats
	case *tg.MessagesDialogsSlice:
		users, chats = d.Users, d.Chats
	default:
		return 0
	}
	if err := manager.Apply(ctx, users, chats); err != nil {
		c.log.Warn("не удалось применить сущности диалогов", zap.Error(err))
	}
	n := c.known.rememberUsers(users)
	c.log.Info("диалоги закэшированы", zap.Int("users", n))
	return n
}

// ExecuteRaw выполняет произвольный запрос MTProto.
func (c *Client) ExecuteRaw(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	client, _, _, err := c.live()
	if err != nil {
		return err
	}
	return client.Invoke(ctx, input, output)
}

// AcknowledgeRead отмечает чат прочитанным через закэшированный пир.
func (c *Client) AcknowledgeRead(ctx context.Context, chatID int64, maxID int) error {
	_, api, _, err := c.live()
	if err != nil {
		return err
	}
	peer, ok := c.known.inputPeer(chatID)
	if !ok {
		return ErrPeerNotResolvable
	}
	_, err = api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{Peer: peer, MaxID: maxID})
	return err
}

// ResolveInputPeer принудительно разрешает пользователя через менеджер пиров.
func (c *Client) ResolveInputPeer(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	_, _, manager, err := c.live()
	if err != nil {
		return nil, err
	}
	user, err := manager.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve user %d", userID)
	}
	return user.InputPeer(), nil
}

// UpdateStatus отправляет статус «в сети» (offline=false) или «не в сети».
func (c *Client) UpdateStatus(ctx context.Context, offline bool) error {
	_, api, _, err := c.live()
	if err != nil {
		return err
	}
	_, err = api.AccountUpdateStatus(ctx, offline)
	return err
}

// ForwardToUsername пересылает сообщение из личного чата пользователю по username.
func (c *Client) ForwardToUsername(ctx context.Context, fromChatID int64, msgID int, username string) error {
	_, api, _, err := c.live()
	if err != nil {
		return err
	}
	from, err := c.peerByID(ctx, fromChatID)
	if err != nil {
		return err
	}
	to, err := c.peerByUsername(ctx, api, username)
	if err != nil {
		return err
	}
	_, err = api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: from,
		ID:       []int{msgID},
		ToPeer:   to,
		RandomID: []int64{rand.Int63()},
	})
	if err != nil {
		return errors.Wrap(err, "forward message")
	}
	return nil
}

func (c *Client) peerByID(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	if peer, ok := c.known.inputPeer(id); ok {
		return peer, nil
	}
	return c.ResolveInputPeer(ctx, id)
}

func (c *Client) peerByUsername(ctx context.Context, api *tg.Client, username string) (tg.InputPeerClass, error) {
	username = strings.ToLower(strings.TrimPrefix(username, "@"))

	c.mu.Lock()
	peer, ok := c.byLogin[username]
	c.mu.Unlock()
	if ok {
		return peer, nil
	}

	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return nil, errors.Wrapf(err, "resolve @%s", username)
	}
	target, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return nil, errors.Errorf("@%s is not a user", username)
	}
	for _, raw := range resolved.Users {
		u, ok := raw.(*tg.User)
		if !ok || u.ID != target.UserID {
			continue
		}
		c.known.remember(u)
		peer = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		c.mu.Lock()
		c.byLogin[username] = peer
		c.mu.Unlock()
		return peer, nil
	}
	return nil, errors.Errorf("@%s not found in resolved users", username)
}
