package session

import (
	"context"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tg_online/models"
	"tg_online/pkg/telegram/relay"
)

// onNewMessage принимает только входящие личные сообщения и кладёт их
// в поток событий аккаунта. Порядок сохраняется.
func (c *Client) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	c.known.rememberEntities(e.Users)

	in, ok := incomingFromMessage(msg, e.Users)
	if !ok {
		return nil
	}
	if _, listed := e.Users[in.SenderID]; !listed {
		// updateShortMessage приходит без пользователя, берём его из кэша.
		if sender := c.lookupUser(ctx, in.SenderID); sender != nil {
			if sender.Self {
				return nil
			}
			fillSender(&in, sender)
		}
	}
	in.Account = c.session
	in.AccountUserID = c.selfID.Load()

	select {
	case c.events <- in:
		return nil
	case <-ctx.Done():
		c.log.Warn("сообщение не доставлено в обработчик", zap.Int("msg_id", in.MessageID), zap.Error(ctx.Err()))
		return nil
	}
}

// incomingFromMessage собирает IncomingMessage из личного входящего сообщения.
// Исходящие, групповые и сообщения самому себе отбрасываются.
func incomingFromMessage(msg *tg.Message, users map[int64]*tg.User) (models.IncomingMessage, bool) {
	if msg == nil || msg.Out {
		return models.IncomingMessage{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return models.IncomingMessage{}, false
	}

	in := models.IncomingMessage{
		ChatID:    peer.UserID,
		SenderID:  peer.UserID,
		Text:      msg.Message,
		Media:     relay.Classify(msg.Media),
		MessageID: msg.ID,
		Date:      time.Unix(int64(msg.Date), 0),
	}
	if user, ok := users[peer.UserID]; ok && user != nil {
		if user.Self {
			return models.IncomingMessage{}, false
		}
		fillSender(&in, user)
	}
	return in, true
}

func fillSender(in *models.IncomingMessage, u *tg.User) {
	in.Username = u.Username
	in.FirstName = u.FirstName
	in.LastName = u.LastName
	in.Phone = u.Phone
}

// lookupUser ищет отправителя в кэше пиров, затем через менеджер пиров.
// Если пользователь так и не найден, сообщение уходит с одним ID.
func (c *Client) lookupUser(ctx context.Context, id int64) *tg.User {
	if u, ok := c.known.user(id); ok {
		return u
	}
	_, _, manager, err := c.live()
	if err != nil {
		return nil
	}
	user, err := manager.ResolveUserID(ctx, id)
	if err != nil {
		c.log.Debug("отправитель не разрешён", zap.Int64("user_id", id), zap.Error(err))
		return nil
	}
	raw := user.Raw()
	c.known.remember(raw)
	return raw
}
