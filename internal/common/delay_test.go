package common

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась ошибка отмены, получено %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("ожидание не прервалось по отмене контекста")
	}
}

func TestSleepWaitsDuration(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("ожидание завершилось раньше срока")
	}
}
