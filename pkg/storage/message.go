package storage

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg_online/models"
)

// DefaultHistoryLimit ограничивает число последних сообщений в истории.
const DefaultHistoryLimit = 100

// ErrUserNotFound возвращается, когда пользователь отсутствует в БД.
var ErrUserNotFound = errors.New("пользователь не найден")

var userColumns = []string{"id", "username", "first_name", "last_name", "phone", "last_message_time"}

const upsertUserSuffix = `ON CONFLICT (id) DO UPDATE SET
	username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END,
	first_name = CASE WHEN excluded.first_name <> '' THEN excluded.first_name ELSE users.first_name END,
	last_name = CASE WHEN excluded.last_name <> '' THEN excluded.last_name ELSE users.last_name END,
	phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE users.phone END,
	last_message_time = excluded.last_message_time`

// SaveMessage обновляет (или создаёт) пользователя и добавляет сообщение в историю.
// Обе записи выполняются в одной транзакции. Пустые username, имя, фамилия
// и телефон не затирают сохранённые значения.
func (db *DB) SaveMessage(ctx context.Context, u models.User, text string, incoming bool) error {
	now := db.now().UTC()

	upsertSQL, upsertArgs, err := db.sb.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Username, u.FirstName, u.LastName, u.Phone, now).
		Suffix(upsertUserSuffix).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build user upsert")
	}
	insertSQL, insertArgs, err := db.sb.Insert("messages").
		Columns("user_id", "message_text", "timestamp", "is_incoming").
		Values(u.ID, text, now, incoming).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build message insert")
	}

	tx, err := db.Conn.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertSQL, upsertArgs...); err != nil {
		return errors.Wrapf(err, "upsert user %d", u.ID)
	}
	if _, err := tx.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		return errors.Wrapf(err, "insert message for %d", u.ID)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}

	db.log.Debug("сообщение сохранено", zap.Int64("user_id", u.ID), zap.Bool("incoming", incoming))
	return nil
}

// NormalizeUsername убирает пробелы и ведущий @.
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

// GetUserByUsername ищет пользователя по username без учёта регистра.
// Ведущий @ отбрасывается, поэтому "@bob" и "bob" дают одну и ту же запись.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return nil, ErrUserNotFound
	}
	return db.getUser(ctx, sq.Expr("LOWER(username) = LOWER(?)", name))
}

// FindUser ищет по username, а если совпадения нет, то по имени, фамилии
// или "имя фамилия". Запрос с @ считается только username.
func (db *DB) FindUser(ctx context.Context, query string) (*models.User, error) {
	u, err := db.GetUserByUsername(ctx, query)
	if err == nil || !errors.Is(err, ErrUserNotFound) {
		return u, err
	}

	q := strings.TrimSpace(query)
	if q == "" || strings.HasPrefix(q, "@") {
		return nil, ErrUserNotFound
	}
	return db.getUser(ctx, sq.Or{
		sq.Expr("LOWER(first_name) = LOWER(?)", q),
		sq.Expr("LOWER(last_name) = LOWER(?)", q),
		sq.Expr("LOWER(first_name || ' ' || last_name) = LOWER(?)", q),
	})
}

// GetUserByID возвращает пользователя по Telegram ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, sq.Eq{"id": id})
}

func (db *DB) getUser(ctx context.Context, where sq.Sqlizer) (*models.User, error) {
	query, args, err := db.sb.Select(userColumns...).
		From("users").
		Where(where).
		OrderBy("last_message_time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build user select")
	}

	var u models.User
	if err := db.Conn.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "select user")
	}
	return &u, nil
}

// GetMessagesByUserID возвращает последние limit сообщений пользователя
// в хронологическом порядке.
func (db *DB) GetMessagesByUserID(ctx context.Context, userID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query, args, err := db.sb.Select("id", "user_id", "message_text", "timestamp", "is_incoming").
		From("messages").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build history select")
	}

	var msgs []models.Message
	if err := db.Conn.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, errors.Wrapf(err, "select history of %d", userID)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetChatHistory находит пользователя по запросу и возвращает его историю.
func (db *DB) GetChatHistory(ctx context.Context, query string) (*models.User, []models.Message, error) {
	u, err := db.FindUser(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := db.GetMessagesByUserID(ctx, u.ID, DefaultHistoryLimit)
	if err != nil {
		return u, nil, err
	}
	return u, msgs, nil
}
