package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB хранит пользователей и историю их сообщений.
// По умолчанию используется SQLite, Postgres подключается через database.driver.
type DB struct {
	Conn *sqlx.DB

	sb  sq.StatementBuilderType
	log *zap.Logger
	now func() time.Time
}

// NewDB оборачивает готовое подключение. Формат плейсхолдеров выбирается по имени драйвера.
func NewDB(conn *sqlx.DB, log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	var format sq.PlaceholderFormat = sq.Question
	if conn.DriverName() == DriverPostgres {
		format = sq.Dollar
	}
	return &DB{
		Conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(format),
		log:  log,
		now:  time.Now,
	}
}

// Open подключается к БД и создаёт таблицы, если их ещё нет.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, errors.Errorf("неподдерживаемый драйвер БД %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if driver == DriverSQLite {
		// У SQLite один писатель, лишние соединения дают только SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	db := NewDB(conn, log)
	if err := db.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close закрывает подключение.
func (db *DB) Close() error {
	return db.Conn.Close()
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			last_message_time TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			message_text TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL,
			is_incoming BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_time ON messages(user_id, timestamp)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			last_message_time TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			message_text TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			is_incoming BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_time ON messages(user_id, timestamp)`,
	},
}

// Migrate создаёт таблицы users и messages.
func (db *DB) Migrate(ctx context.Context) error {
	stmts, ok := schema[db.Conn.DriverName()]
	if !ok {
		return errors.Errorf("нет схемы для драйвера %q", db.Conn.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
