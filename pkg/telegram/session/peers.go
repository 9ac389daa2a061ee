package session

import (
	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultPeerCacheSize = 1024

// peerCache помнит собеседников вместе с access hash. Из него работает
// высокоуровневая отметка о прочтении и подпись отправителя без
// дополнительных запросов.
type peerCache struct {
	users *lru.Cache[int64, *tg.User]
}

func newPeerCache(size int) (*peerCache, error) {
	if size <= 0 {
		size = defaultPeerCacheSize
	}
	c, err := lru.New[int64, *tg.User](size)
	if err != nil {
		return nil, errors.Wrap(err, "peer cache")
	}
	return &peerCache{users: c}, nil
}

// remember сохраняет пользователя. Min-пользователи пропускаются:
// их access hash не годится для прямых запросов.
func (p *peerCache) remember(u *tg.User) {
	if u == nil || u.Min || u.AccessHash == 0 {
		return
	}
	p.users.Add(u.ID, u)
}

func (p *peerCache) rememberUsers(users []tg.UserClass) int {
	n := 0
	for _, raw := range users {
		if u, ok := raw.(*tg.User); ok && !u.Min && u.AccessHash != 0 {
			p.remember(u)
			n++
		}
	}
	return n
}

func (p *peerCache) rememberEntities(users map[int64]*tg.User) {
	for _, u := range users {
		p.remember(u)
	}
}

func (p *peerCache) user(id int64) (*tg.User, bool) {
	return p.users.Get(id)
}

func (p *peerCache) inputPeer(id int64) (*tg.InputPeerUser, bool) {
	u, ok := p.users.Get(id)
	if !ok {
		return nil, false
	}
	return &tg.InputPeerUser{UserID: id, AccessHash: u.AccessHash}, true
}
