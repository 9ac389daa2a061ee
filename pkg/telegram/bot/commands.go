package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg_online/models"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/relay"
)

const (
	helpText = "Бот для уведомлений о новых сообщениях 👑\n\n" +
		"/search (или /поиск) — найти пользователя и показать историю переписки\n" +
		"/cancel — выйти из режима поиска"
	searchPrompt   = "Введите username или имя пользователя для поиска:"
	searchCanceled = "Поиск отменён."
	historyEmpty   = "История сообщений пуста"
	searchFailed   = "Поиск сейчас недоступен, попробуйте позже."
)

func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// normalizeSlashCommand приводит "/Cmd@BotName" к "/cmd". Для не-команды возвращается пустая строка.
func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

// handleAdmin обрабатывает сообщение администратора. Режим поиска одноразовый:
// после одного запроса бот возвращается в обычный режим.
func (b *Bot) handleAdmin(ctx context.Context, text string) {
	cmd, args := splitCommand(text)
	switch normalizeSlashCommand(cmd) {
	case "/start", "/help":
		b.searchMode.Store(false)
		b.reply(ctx, helpText)
	case "/search", "/поиск":
		if args != "" {
			b.searchMode.Store(false)
			b.search(ctx, args)
			return
		}
		b.searchMode.Store(true)
		b.reply(ctx, searchPrompt)
	case "/cancel":
		b.searchMode.Store(false)
		b.reply(ctx, searchCanceled)
	case "":
		if strings.TrimSpace(text) == "" {
			return
		}
		if b.searchMode.CompareAndSwap(true, false) {
			b.search(ctx, text)
		}
	default:
		b.log.Debug("неизвестная команда", zap.String("command", cmd))
	}
}

func (b *Bot) reply(ctx context.Context, text string) {
	if err := b.SendText(ctx, b.adminID, text, nil); err != nil {
		b.log.Error("не удалось ответить администратору", zap.Error(err))
	}
}

func (b *Bot) search(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	if b.history == nil {
		b.reply(ctx, searchFailed)
		return
	}

	user, msgs, err := b.history.GetChatHistory(ctx, query)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		b.reply(ctx, notFoundText(query))
		return
	case err != nil:
		b.log.Error("ошибка поиска истории", zap.String("query", query), zap.Error(err))
		b.reply(ctx, searchFailed)
		return
	}

	b.reply(ctx, FormatProfile(*user))
	for _, page := range FormatHistoryPages(msgs, relay.MaxMessageLength) {
		b.reply(ctx, page)
	}
}

func notFoundText(query string) string {
	return fmt.Sprintf("Пользователь %s не найден. Попробуйте другое имя или введите /search для нового поиска.",
		html.EscapeString(query))
}

// FormatProfile выводит карточку найденного пользователя.
func FormatProfile(u models.User) string {
	username := "—"
	if u.Username != "" {
		username = "@" + u.Username
	}
	name := u.FullName()
	if name == "" {
		name = "—"
	}
	phone := u.Phone
	if phone == "" {
		phone = "—"
	}
	return fmt.Sprintf("<b>Найден пользователь</b> 👑\n\nUsername: %s\nИмя: %s\nТелефон: %s\nID: %d",
		html.EscapeString(username), html.EscapeString(name), html.EscapeString(phone), u.ID)
}

func formatHistoryEntry(m models.Message) string {
	arrow := "⬅️"
	if m.IsIncoming {
		arrow = "➡️"
	}
	return fmt.Sprintf("%s %s\n%s\n\n", arrow, html.EscapeString(m.Text), m.Timestamp.In(time.Local).Format("2006-01-02 15:04:05"))
}

// FormatHistoryPages собирает историю в страницы не длиннее limit.
// Записи не разрываются между страницами, кроме записей длиннее страницы.
func FormatHistoryPages(msgs []models.Message, limit int) []string {
	if len(msgs) == 0 {
		return []string{historyEmpty}
	}

	const header = "<b>История сообщений:</b>\n\n"
	var pages []string
	var page strings.Builder
	page.WriteString(header)
	size := relay.TextLength(header)
	entries := 0

	flush := func() {
		if entries > 0 {
			pages = append(pages, page.String())
		}
		page.Reset()
		size, entries = 0, 0
	}

	for _, m := range msgs {
		entry := formatHistoryEntry(m)
		n := relay.TextLength(entry)
		if entries > 0 && size+n > limit {
			flush()
		}
		if size+n > limit {
			// Запись не помещается даже на пустую страницу.
			pages = append(pages, relay.SplitText(page.String()+entry, limit)...)
			page.Reset()
			size = 0
			continue
		}
		page.WriteString(entry)
		size += n
		entries++
	}
	flush()
	return pages
}
