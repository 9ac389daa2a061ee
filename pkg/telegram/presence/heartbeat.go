// Package presence поддерживает статус «в сети» аккаунта.
package presence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tg_online/internal/common"
	"tg_online/pkg/telegram/session"
)

// DefaultInterval задаёт паузу между отметками «в сети».
const DefaultInterval = 3 * time.Second

// ErrAuthRevoked означает, что авторизация аккаунта отозвана и цикл завершается.
var ErrAuthRevoked = errors.New("account authorization revoked")

// Client описывает то, что нужно циклу от клиента аккаунта.
type Client interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	UpdateStatus(ctx context.Context, offline bool) error
}

// Stats содержит снимок состояния цикла для API статуса.
type Stats struct {
	LastOnline          time.Time `json:"last_online"`
	Assertions          int64     `json:"assertions"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	Reconnects          int64     `json:"reconnects"`
}

// Heartbeat раз в интервал отправляет статус «в сети». Отметки строго
// последовательны, временные сбои цикл не прерывают.
type Heartbeat struct {
	client   Client
	interval time.Duration
	log      *zap.Logger
	sleep    common.SleepFunc

	lastOnline atomic.Time
	assertions atomic.Int64
	failures   atomic.Int64
	reconnects atomic.Int64
}

// Options задаёт интервал, логгер и функцию ожидания.
type Options struct {
	Interval time.Duration
	Logger   *zap.Logger
	Sleep    common.SleepFunc
}

// New создаёт цикл для клиента.
func New(client Client, opts Options) *Heartbeat {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = common.Sleep
	}
	return &Heartbeat{
		client:   client,
		interval: opts.Interval,
		log:      opts.Logger,
		sleep:    opts.Sleep,
	}
}

// Run крутит цикл до отмены контекста или отзыва авторизации.
// При отмене возвращается nil, при отзыве авторизации ErrAuthRevoked.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.log.Info("цикл присутствия запущен", zap.Duration("interval", h.interval))
	for {
		if err := h.tick(ctx); err != nil {
			return err
		}
		if err := h.sleep(ctx, h.interval); err != nil {
			h.log.Info("цикл присутствия остановлен")
			return nil
		}
	}
}

// tick выполняет одну итерацию. Ошибку возвращает только при отзыве авторизации.
func (h *Heartbeat) tick(ctx context.Context) error {
	if !h.client.IsConnected() {
		h.reconnects.Inc()
		if err := h.client.Connect(ctx); err != nil {
			h.failures.Inc()
			h.log.Warn("переподключение не удалось", zap.Error(err))
			return nil
		}
		h.log.Info("соединение восстановлено")
	}

	h.assertions.Inc()
	err := h.client.UpdateStatus(ctx, false)
	switch {
	case err == nil:
		h.failures.Store(0)
		h.lastOnline.Store(time.Now())
		return nil
	case session.IsAuthRevoked(err):
		h.log.Error("авторизация аккаунта отозвана", zap.Error(err))
		return errors.Wrap(ErrAuthRevoked, err.Error())
	case ctx.Err() != nil:
		return nil
	default:
		n := h.failures.Inc()
		h.log.Warn("не удалось обновить статус", zap.Int64("failures", n), zap.Error(err))
		return nil
	}
}

// Stats возвращает текущие счётчики.
func (h *Heartbeat) Stats() Stats {
	return Stats{
		LastOnline:          h.lastOnline.Load(),
		Assertions:          h.assertions.Load(),
		ConsecutiveFailures: h.failures.Load(),
		Reconnects:          h.reconnects.Load(),
	}
}
