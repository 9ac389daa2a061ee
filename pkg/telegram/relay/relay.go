// Package relay пересылает личные сообщения аккаунтов администратору:
// медиа через бота в два шага, всё остальное текстовым уведомлением.
package relay

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg_online/models"
)

// Source выполняет первый шаг пересылки медиа от имени аккаунта.
type Source interface {
	ForwardToUsername(ctx context.Context, fromChatID int64, msgID int, username string) error
}

// Notifier реализуется ботом-компаньоном.
type Notifier interface {
	// Username возвращает username бота, в чат с которым аккаунт пересылает медиа.
	Username() string
	// PrepareCopy отбрасывает копии, оставшиеся от прошлых неудачных пересылок.
	PrepareCopy(accountUserID int64)
	// ForwardCopy дожидается копии от аккаунта и пересылает её в toChatID.
	ForwardCopy(ctx context.Context, accountUserID, toChatID int64) error
	// SendText отправляет HTML-текст, разбивая его на части.
	SendText(ctx context.Context, chatID int64, text string, button *Button) error
}

// Store сохраняет историю переписки.
type Store interface {
	SaveMessage(ctx context.Context, u models.User, text string, incoming bool) error
}

// Handle передаётся маршрутизатору аккаунта при создании.
type Handle interface {
	Relay(ctx context.Context, in models.IncomingMessage, src Source, count int) (Outcome, error)
}

// Outcome описывает итог обработки одного сообщения.
type Outcome int

const (
	Failed Outcome = iota
	Skipped
	MediaForwarded
	TextSent
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case MediaForwarded:
		return "media_forwarded"
	case TextSent:
		return "text_sent"
	default:
		return "failed"
	}
}

// ErrUnavailable возвращается, пока бот не запущен.
var ErrUnavailable = errors.New("relay is not available yet")

// Unavailable обозначает состояние «бот ещё недоступен».
type Unavailable struct{}

func (Unavailable) Relay(context.Context, models.IncomingMessage, Source, int) (Outcome, error) {
	return Failed, ErrUnavailable
}

// Options задаёт администратора и фильтр отправителей.
type Options struct {
	AdminID int64
	// IsIgnored возвращает true для отправителей, которых не пересылаем.
	IsIgnored func(id int64) bool
	Logger    *zap.Logger
}

// Relay пересылает сообщения администратору.
type Relay struct {
	notifier Notifier
	store    Store
	opts     Options
	log      *zap.Logger
}

// New создаёт Relay.
func New(notifier Notifier, store Store, opts Options) *Relay {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{notifier: notifier, store: store, opts: opts, log: log}
}

// Skips сообщает, что сообщения отправителя не пересылаются и не сохраняются.
func (r *Relay) Skips(senderID int64) bool {
	if senderID == r.opts.AdminID {
		return true
	}
	return r.opts.IsIgnored != nil && r.opts.IsIgnored(senderID)
}

// Relay обрабатывает одно сообщение. Ошибки логируются и возвращаются,
// паника не выходит за пределы сообщения.
func (r *Relay) Relay(ctx context.Context, in models.IncomingMessage, src Source, count int) (out Outcome, err error) {
	log := r.log.With(
		zap.String("account", in.Account),
		zap.Int64("sender_id", in.SenderID),
		zap.Int("msg_id", in.MessageID),
	)
	defer func() {
		if p := recover(); p != nil {
			log.Error("паника при пересылке сообщения", zap.Any("panic", p))
			out, err = Failed, errors.Errorf("relay panic: %v", p)
		}
	}()

	if r.Skips(in.SenderID) {
		return Skipped, nil
	}
	if count < 1 {
		count = 1
	}
	display := DisplayName(in.Username, in.FirstName, in.LastName, in.SenderID)

	if in.Media.HasMedia() {
		if err := r.forwardMedia(ctx, in, src); err != nil {
			log.Warn("медиа не переслано, отправляем текстовое уведомление",
				zap.Stringer("media", in.Media), zap.Error(err))
		} else {
			log.Info("медиа переслано администратору", zap.Stringer("media", in.Media))
			return MediaForwarded, nil
		}
	}

	body := in.Body()
	if err := r.store.SaveMessage(ctx, in.Sender(), body, true); err != nil {
		log.Error("не удалось сохранить сообщение", zap.Error(err))
	}

	text := FormatNotification(body, display, count)
	if err := r.notifier.SendText(ctx, r.opts.AdminID, text, DialogButton(in.Username, in.SenderID)); err != nil {
		log.Error("не удалось отправить уведомление", zap.Error(err))
		return Failed, errors.Wrap(err, "send notification")
	}
	log.Info("уведомление отправлено", zap.String("from", display))
	return TextSent, nil
}

// forwardMedia пересылает медиа в два шага: аккаунт → бот, бот → администратор.
func (r *Relay) forwardMedia(ctx context.Context, in models.IncomingMessage, src Source) error {
	if src == nil {
		return errors.New("no source client")
	}
	if in.AccountUserID == 0 {
		return errors.New("account user id is unknown")
	}
	botUsername := r.notifier.Username()
	if botUsername == "" {
		return errors.New("bot username is unknown")
	}

	r.notifier.PrepareCopy(in.AccountUserID)
	if err := src.ForwardToUsername(ctx, in.ChatID, in.MessageID, botUsername); err != nil {
		return errors.Wrap(err, "forward to bot")
	}
	if err := r.notifier.ForwardCopy(ctx, in.AccountUserID, r.opts.AdminID); err != nil {
		return errors.Wrap(err, "forward to admin")
	}
	return nil
}
