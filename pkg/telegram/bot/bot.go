// Package bot реализует бота-компаньона: принимает копии медиа от аккаунтов,
// пересылает их администратору, отправляет уведомления и отвечает на команды.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tg_online/models"
	"tg_online/pkg/telegram/relay"
)

const (
	defaultCopyTimeout = 15 * time.Second
	inboxSize          = 16
	pollTimeout        = 30
)

// ErrCopyTimeout возвращается, если копия от аккаунта не пришла за отведённое время.
var ErrCopyTimeout = errors.New("timed out waiting for forwarded copy")

// API описывает используемую часть *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// HistoryStore ищет собеседника и его историю.
type HistoryStore interface {
	GetChatHistory(ctx context.Context, query string) (*models.User, []models.Message, error)
}

// Options задаёт параметры бота.
type Options struct {
	AdminID     int64
	CopyTimeout time.Duration
	History     HistoryStore
	Logger      *zap.Logger
}

// Bot реализует relay.Notifier.
type Bot struct {
	api      API
	self     tgbotapi.User
	adminID  int64
	history  HistoryStore
	copyWait time.Duration
	log      *zap.Logger

	searchMode atomic.Bool

	mu    sync.Mutex
	inbox map[int64]chan int
}

var _ relay.Notifier = (*Bot)(nil)

// New подключается к Bot API по токену.
func New(token string, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "bot api")
	}
	return NewWithAPI(api, api.Self, opts), nil
}

// NewWithAPI создаёт бота поверх готового клиента.
func NewWithAPI(api API, self tgbotapi.User, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CopyTimeout <= 0 {
		opts.CopyTimeout = defaultCopyTimeout
	}
	return &Bot{
		api:      api,
		self:     self,
		adminID:  opts.AdminID,
		history:  opts.History,
		copyWait: opts.CopyTimeout,
		log:      opts.Logger,
		inbox:    make(map[int64]chan int),
	}
}

// Username возвращает username бота.
func (b *Bot) Username() string { return b.self.UserName }

// ID возвращает Telegram ID бота.
func (b *Bot) ID() int64 { return b.self.ID }

func (b *Bot) inboxFor(accountUserID int64) chan int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inbox[accountUserID]
	if !ok {
		ch = make(chan int, inboxSize)
		b.inbox[accountUserID] = ch
	}
	return ch
}

func (b *Bot) registeredInbox(chatID int64) (chan int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inbox[chatID]
	return ch, ok
}

// PrepareCopy заводит очередь копий для аккаунта и отбрасывает копии,
// которые не дождались пересылки раньше.
func (b *Bot) PrepareCopy(accountUserID int64) {
	ch := b.inboxFor(accountUserID)
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// ForwardCopy ждёт копию, пересланную аккаунтом в чат с ботом, и пересылает её в toChatID.
func (b *Bot) ForwardCopy(ctx context.Context, accountUserID, toChatID int64) error {
	ch := b.inboxFor(accountUserID)
	timer := time.NewTimer(b.copyWait)
	defer timer.Stop()

	var messageID int
	select {
	case messageID = <-ch:
	case <-timer.C:
		return ErrCopyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := b.api.Send(tgbotapi.NewForward(toChatID, accountUserID, messageID)); err != nil {
		return errors.Wrap(err, "forward copy")
	}
	return nil
}

// SendText отправляет HTML-текст частями не длиннее relay.MaxMessageLength.
// Кнопка прикрепляется к последней части.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string, button *relay.Button) error {
	chunks := relay.SplitText(text, relay.MaxMessageLength)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if button != nil && i == len(chunks)-1 {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(button.Text, button.URL)),
			)
		}
		if _, err := b.api.Send(msg); err != nil {
			return errors.Wrapf(err, "send part %d/%d", i+1, len(chunks))
		}
	}
	return nil
}

// Run читает обновления до отмены контекста.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(cfg)
	b.log.Info("бот запущен", zap.String("username", b.Username()))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("бот остановлен")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	// Пересланная копия медиа от одного из аккаунтов: отдаём её ожидающему пересылку.
	if ch, ok := b.registeredInbox(msg.Chat.ID); ok && msg.ForwardDate != 0 {
		select {
		case ch <- msg.MessageID:
		default:
			b.log.Warn("очередь копий переполнена", zap.Int64("account_id", msg.Chat.ID))
		}
		return
	}

	if msg.Chat.ID != b.adminID {
		b.log.Debug("сообщение не от администратора пропущено", zap.Int64("chat_id", msg.Chat.ID))
		return
	}
	b.handleAdmin(ctx, msg.Text)
}
