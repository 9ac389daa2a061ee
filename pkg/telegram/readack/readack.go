// Package readack отмечает входящие сообщения прочитанными.
// Стратегии перебираются от дешёвой к надёжной до первого успеха.
package readack

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tg_online/models"
	"tg_online/pkg/telegram/session"
)

// Client описывает то, что нужно каскаду от клиента аккаунта.
type Client interface {
	AcknowledgeRead(ctx context.Context, chatID int64, maxID int) error
	ExecuteRaw(ctx context.Context, input bin.Encoder, output bin.Decoder) error
	ResolveInputPeer(ctx context.Context, userID int64) (tg.InputPeerClass, error)
}

// Strategy описывает одну попытку отметить сообщение прочитанным.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, c Client, in models.IncomingMessage) error
}

// Result описывает итог каскада. Tier начинается с 1, ноль означает, что все попытки неудачны.
type Result struct {
	Tier     int
	Strategy string
	Err      error
}

// OK сообщает, что одна из стратегий сработала.
func (r Result) OK() bool { return r.Tier > 0 }

// DefaultStrategies возвращает три стратегии в порядке применения.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "high-level", Run: acknowledge},
		{Name: "raw-peer-id", Run: readHistoryByID},
		{Name: "resolved-peer", Run: readHistoryResolved},
	}
}

func acknowledge(ctx context.Context, c Client, in models.IncomingMessage) error {
	return c.AcknowledgeRead(ctx, in.ChatID, in.MessageID)
}

func readHistoryByID(ctx context.Context, c Client, in models.IncomingMessage) error {
	return readHistory(ctx, c, &tg.InputPeerUser{UserID: in.ChatID}, in.MessageID)
}

func readHistoryResolved(ctx context.Context, c Client, in models.IncomingMessage) error {
	peer, err := c.ResolveInputPeer(ctx, in.ChatID)
	if err != nil {
		return err
	}
	return readHistory(ctx, c, peer, in.MessageID)
}

func readHistory(ctx context.Context, c Client, peer tg.InputPeerClass, maxID int) error {
	var affected tg.MessagesAffectedMessages
	return c.ExecuteRaw(ctx, &tg.MessagesReadHistoryRequest{Peer: peer, MaxID: maxID}, &affected)
}

// Cascade перебирает стратегии и никогда не возвращает ошибку вызывающему.
type Cascade struct {
	strategies []Strategy
	log        *zap.Logger
}

// New создаёт каскад. Без стратегий используются DefaultStrategies.
func New(log *zap.Logger, strategies ...Strategy) *Cascade {
	if log == nil {
		log = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Cascade{strategies: strategies, log: log}
}

// Acknowledge пытается отметить сообщение прочитанным.
// Неразрешённый пир молча передаёт сообщение следующей стратегии.
// Прочие сбои логируются предупреждением, сбой последней стратегии ошибкой.
func (c *Cascade) Acknowledge(ctx context.Context, client Client, in models.IncomingMessage) Result {
	log := c.log.With(
		zap.String("account", in.Account),
		zap.Int64("chat_id", in.ChatID),
		zap.Int("msg_id", in.MessageID),
	)

	var lastErr error
	last := len(c.strategies) - 1
	for i, s := range c.strategies {
		err := c.run(ctx, s, client, in)
		if err == nil {
			log.Debug("сообщение отмечено прочитанным", zap.String("strategy", s.Name))
			return Result{Tier: i + 1, Strategy: s.Name}
		}
		lastErr = err

		switch {
		case i == last:
			log.Error("не удалось отметить сообщение прочитанным",
				zap.String("strategy", s.Name), zap.Error(err))
		case session.IsNotResolvable(err):
			log.Debug("пир не разрешён, переходим к следующей стратегии", zap.String("strategy", s.Name))
		default:
			log.Warn("стратегия отметки прочтения не сработала",
				zap.String("strategy", s.Name), zap.Error(err))
		}
	}
	return Result{Err: lastErr}
}

func (c *Cascade) run(ctx context.Context, s Strategy, client Client, in models.IncomingMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("strategy %s panic: %v", s.Name, p)
		}
	}()
	return s.Run(ctx, client, in)
}
