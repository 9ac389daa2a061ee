package common

import (
	"context"
	"time"
)

// SleepFunc задаёт сигнатуру ожидания, которую компоненты принимают для подмены в тестах.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep ждёт d или отмены контекста. При отмене возвращает ошибку контекста,
// чтобы цикл выше по стеку завершился на границе ожидания.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
