package supervisor

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tg_online/models"
	"tg_online/pkg/telegram/readack"
	"tg_online/pkg/telegram/relay"
)

// routeClient описывает клиент аккаунта с точки зрения маршрутизатора.
type routeClient interface {
	readack.Client
	relay.Source
}

// relaySlot хранит relay, который появляется только после запуска бота.
// Пока его нет, сообщения получают типизированный отказ relay.Unavailable.
type relaySlot struct {
	v atomic.Value
}

func (s *relaySlot) set(h relay.Handle) { s.v.Store(h) }

func (s *relaySlot) Relay(ctx context.Context, in models.IncomingMessage, src relay.Source, count int) (relay.Outcome, error) {
	h, _ := s.v.Load().(relay.Handle)
	if h == nil {
		return relay.Unavailable{}.Relay(ctx, in, src, count)
	}
	return h.Relay(ctx, in, src, count)
}

// router обрабатывает сообщения одного аккаунта строго по очереди.
type router struct {
	client  routeClient
	cascade *readack.Cascade
	relay   relay.Handle
	skips   func(id int64) bool
	timeout time.Duration
	log     *zap.Logger
}

// run читает события до отмены контекста или закрытия канала.
func (r *router) run(ctx context.Context, events <-chan models.IncomingMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, in)
		}
	}
}

// handle доводит начатое сообщение до конца даже при остановке:
// контекст сообщения отвязан от отмены и ограничен только таймаутом.
func (r *router) handle(ctx context.Context, in models.IncomingMessage) {
	log := r.log.With(zap.Int64("sender_id", in.SenderID), zap.Int("msg_id", in.MessageID))
	if r.skips != nil && r.skips(in.SenderID) {
		log.Debug("[ROUTER] отправитель в списке игнорируемых")
		return
	}

	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	// Итог каскада уже залогирован, пересылка от него не зависит.
	r.cascade.Acknowledge(msgCtx, r.client, in)

	out, err := r.relay.Relay(msgCtx, in, r.client, 1)
	if err != nil {
		log.Warn("[ROUTER] уведомление не доставлено", zap.Stringer("outcome", out), zap.Error(err))
		return
	}
	log.Debug("[ROUTER] сообщение обработано", zap.Stringer("outcome", out))
}
