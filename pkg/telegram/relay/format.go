package relay

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// MaxMessageLength ограничивает длину одной отправки ботом.
const MaxMessageLength = 3000

// Button описывает inline-кнопку со ссылкой под уведомлением.
type Button struct {
	Text string
	URL  string
}

// DisplayName выбирает подпись отправителя: @username, затем имя и фамилия,
// затем числовой ID.
func DisplayName(username, firstName, lastName string, id int64) string {
	if u := strings.TrimSpace(strings.TrimPrefix(username, "@")); u != "" {
		return "@" + u
	}
	if full := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName)); full != "" {
		return full
	}
	return fmt.Sprintf("user_id:%d", id)
}

// DialogButton строит ссылку на диалог: по username, если он есть, иначе по ID.
func DialogButton(username string, id int64) *Button {
	url := fmt.Sprintf("tg://user?id=%d", id)
	if u := strings.TrimSpace(strings.TrimPrefix(username, "@")); u != "" {
		url = "https://t.me/" + u
	}
	return &Button{Text: "Перейти к диалогу 🚀", URL: url}
}

// FormatNotification собирает HTML-текст уведомления администратору.
// При count > 1 заголовок показывает число объединённых сообщений.
func FormatNotification(body, display string, count int) string {
	header := "<b>Новое сообщение!</b>👑"
	if count > 1 {
		header = fmt.Sprintf("<b>Сообщение (%d)!</b>👑", count)
	}
	return fmt.Sprintf("%s\n%s🗨️\n\n<b>Контакт:</b> (%s)💛",
		header, html.EscapeString(body), html.EscapeString(display))
}

// TextLength считает длину так же, как Telegram: в единицах UTF-16.
func TextLength(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// SplitText режет HTML-текст на части не длиннее limit единиц UTF-16,
// сохраняя порядок. Разрез не попадает внутрь тега или сущности вроде
// &amp; и по возможности делается после перевода строки вне открытого
// элемента. Склейка частей даёт исходный текст.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	var chunks []string
	for TextLength(text) > limit {
		cut := cutPoint(text, limit)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// cutPoint возвращает байтовую позицию разреза в пределах limit.
func cutPoint(text string, limit int) int {
	var (
		width, depth    int
		inTag, closing  bool
		inEntity        bool
		loose, safe, nl int
	)
	for i, r := range text {
		w := utf16.RuneLen(r)
		if width+w > limit {
			break
		}
		width += w
		next := i + utf8.RuneLen(r)

		switch {
		case inTag:
			if r == '>' {
				inTag = false
				if closing {
					depth--
				} else {
					depth++
				}
			}
		case inEntity:
			if r == ';' || unicode.IsSpace(r) {
				inEntity = false
			}
		case r == '<':
			inTag = true
			closing = strings.HasPrefix(text[next:], "/")
		case r == '&':
			inEntity = true
		}
		if inTag || inEntity {
			continue
		}
		loose = next
		if depth > 0 {
			continue
		}
		safe = next
		if r == '\n' {
			nl = next
		}
	}

	switch {
	case nl > 0 && nl > safe/2:
		return nl
	case safe > 0:
		return safe
	case loose > 0:
		return loose
	}
	_, size := utf8.DecodeRuneInString(text)
	return size
}
