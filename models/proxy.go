package models

// Proxy задаёт SOCKS5-прокси, через который подключаются все сессии.
type Proxy struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Login    string `json:"login" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
}
