package session

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
)

// ErrPeerNotResolvable означает, что для чата нет access hash в кэше.
var ErrPeerNotResolvable = errors.New("peer is not resolvable")

// ErrNotConnected возвращается при запросе через неподключённый клиент.
var ErrNotConnected = errors.New("client is not connected")

// ConnectionError описывает сбой установки соединения с Telegram.
type ConnectionError struct {
	Account string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsNotResolvable сообщает, что ошибка вызвана неизвестным пиром.
// Такие ошибки ожидаемы, пока диалоги не закэшированы.
func IsNotResolvable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPeerNotResolvable) {
		return true
	}
	if tgerr.Is(err, "PEER_ID_INVALID", "USER_ID_INVALID") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "could not find the input entity")
}

// IsAuthRevoked сообщает, что авторизация аккаунта потеряна и повторять запросы бессмысленно.
func IsAuthRevoked(err error) bool {
	if err == nil {
		return false
	}
	return tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_DUPLICATED",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	)
}
