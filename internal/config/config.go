// Package config собирает настройки приложения из флагов, переменных
// окружения (префикс TG_ONLINE_) и необязательного конфигурационного файла.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"

	"tg_online/models"
)

const EnvPrefix = "TG_ONLINE"

// Config передаётся компонентам при создании. Глобального состояния нет.
type Config struct {
	APIID   int
	APIHash string

	BotToken  string
	AdminID   int64
	IgnoreIDs []int64

	HeartbeatInterval time.Duration
	AccountsFile      string
	SessionsDir       string

	UseProxy bool
	Proxy    models.Proxy
	Setup    bool

	DatabaseDriver string
	DatabaseDSN    string

	DialogsLimit  int
	PeerCacheSize int

	RelayCopyTimeout time.Duration
	RelayTimeout     time.Duration

	LogLevel string
	LogFile  string

	HTTPAddr  string
	HTTPToken string
}

// SetDefaults регистрирует значения по умолчанию.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("heartbeat_interval", 3*time.Second)
	v.SetDefault("accounts_file", "telegram_accounts.json")
	v.SetDefault("sessions_dir", "sessions")
	v.SetDefault("use_proxy", false)
	v.SetDefault("proxy.addr", "127.0.0.1:9050")
	v.SetDefault("setup", false)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "messages.db")
	v.SetDefault("dialogs_limit", 100)
	v.SetDefault("peer_cache_size", 1024)
	v.SetDefault("relay.copy_timeout", 15*time.Second)
	v.SetDefault("relay.timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/tg_online.log")
	v.SetDefault("http.addr", "")
	v.SetDefault("http.token", "")
}

// New создаёт viper с привязкой к окружению и, если указан, к файлу конфигурации.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
		return v, nil
	}

	v.SetConfigName("tg_online")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return v, nil
}

// Load читает значения из v. Проверку обязательных полей делает Validate.
func Load(v *viper.Viper) (*Config, error) {
	ignore, err := parseIDs(v.Get("ignore_ids"))
	if err != nil {
		return nil, errors.Wrap(err, "ignore_ids")
	}
	c := &Config{
		APIID:             v.GetInt("api_id"),
		APIHash:           v.GetString("api_hash"),
		BotToken:          v.GetString("bot_token"),
		AdminID:           v.GetInt64("admin_id"),
		IgnoreIDs:         ignore,
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		AccountsFile:      v.GetString("accounts_file"),
		SessionsDir:       v.GetString("sessions_dir"),
		UseProxy:          v.GetBool("use_proxy"),
		Proxy: models.Proxy{
			Addr:     v.GetString("proxy.addr"),
			Login:    v.GetString("proxy.user"),
			Password: v.GetString("proxy.password"),
		},
		Setup:            v.GetBool("setup"),
		DatabaseDriver:   v.GetString("database.driver"),
		DatabaseDSN:      v.GetString("database.dsn"),
		DialogsLimit:     v.GetInt("dialogs_limit"),
		PeerCacheSize:    v.GetInt("peer_cache_size"),
		RelayCopyTimeout: v.GetDuration("relay.copy_timeout"),
		RelayTimeout:     v.GetDuration("relay.timeout"),
		LogLevel:         v.GetString("log.level"),
		LogFile:          v.GetString("log.file"),
		HTTPAddr:         v.GetString("http.addr"),
		HTTPToken:        v.GetString("http.token"),
	}
	return c, nil
}

// Validate проверяет настройки, без которых нельзя запустить аккаунты и бота.
func (c *Config) Validate() error {
	var missing []string
	if c.APIID == 0 {
		missing = append(missing, "api_id")
	}
	if c.APIHash == "" {
		missing = append(missing, "api_hash")
	}
	if c.BotToken == "" {
		missing = append(missing, "bot_token")
	}
	if c.AdminID == 0 {
		missing = append(missing, "admin_id")
	}
	if len(missing) > 0 {
		return errors.Errorf("не заданы обязательные параметры: %s", strings.Join(missing, ", "))
	}
	if _, err := c.BotID(); err != nil {
		return errors.Wrap(err, "bot_token")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.Errorf("heartbeat_interval должен быть положительным, получено %s", c.HeartbeatInterval)
	}
	if c.UseProxy && c.Proxy.Addr == "" {
		return errors.New("use_proxy включён, но proxy.addr пуст")
	}
	return nil
}

// ProxyConfig возвращает прокси, если он включён.
func (c *Config) ProxyConfig() *models.Proxy {
	if !c.UseProxy {
		return nil
	}
	p := c.Proxy
	return &p
}

// IsIgnored сообщает, что сообщения от id не пересылаются: это администратор
// или отправитель из списка игнорирования.
func (c *Config) IsIgnored(id int64) bool {
	if id == c.AdminID {
		return true
	}
	for _, ignored := range c.IgnoreIDs {
		if ignored == id {
			return true
		}
	}
	return false
}

// BotID извлекает числовой ID бота из префикса токена.
func (c *Config) BotID() (int64, error) {
	prefix, _, ok := strings.Cut(c.BotToken, ":")
	if !ok {
		return 0, errors.New("некорректный bot_token")
	}
	return strconv.ParseInt(prefix, 10, 64)
}

// parseIDs принимает список из файла конфигурации или строку вида "1,2 3" из окружения.
func parseIDs(raw any) ([]int64, error) {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		parts = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	case []int:
		out := make([]int64, 0, len(v))
		for _, id := range v {
			out = append(out, int64(id))
		}
		return out, nil
	case []int64:
		return v, nil
	default:
		parts = []string{fmt.Sprint(v)}
	}

	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "некорректный id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
