package account_mutex

import (
	"errors"
	"testing"
)

func TestLockAccountIsExclusive(t *testing.T) {
	r := New(nil)

	if err := r.LockAccount("s1"); err != nil {
		t.Fatalf("первая блокировка завершилась ошибкой: %v", err)
	}
	if err := r.LockAccount("s1"); !errors.Is(err, ErrAccountBusy) {
		t.Fatalf("ожидалась ошибка занятости, получено %v", err)
	}
	if err := r.LockAccount("s2"); err != nil {
		t.Fatalf("другой аккаунт должен блокироваться независимо: %v", err)
	}
	if got := r.Locked(); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("неожиданный список блокировок: %v", got)
	}

	r.UnlockAccount("s1")
	r.UnlockAccount("s1")
	if err := r.LockAccount("s1"); err != nil {
		t.Fatalf("после разблокировки аккаунт должен быть свободен: %v", err)
	}
}
