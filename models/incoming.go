package models

import "time"

// MediaKind задаёт тип вложения входящего сообщения.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaSticker
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaImage
	MediaDocument
	MediaOther
)

var mediaTags = map[MediaKind]string{
	MediaSticker:  "📱 [Стикер]",
	MediaPhoto:    "📷 [Фото]",
	MediaVideo:    "🎬 [Видео]",
	MediaAudio:    "🎵 [Аудио]",
	MediaImage:    "📷 [Изображение]",
	MediaDocument: "📱 [Медиа]",
	MediaOther:    "📱 [Медиа]",
}

// Tag возвращает подпись, которой вложение заменяется в текстовом уведомлении.
func (k MediaKind) Tag() string {
	return mediaTags[k]
}

// HasMedia сообщает, есть ли у сообщения вложение.
func (k MediaKind) HasMedia() bool {
	return k != MediaNone
}

func (k MediaKind) String() string {
	switch k {
	case MediaNone:
		return "none"
	case MediaSticker:
		return "sticker"
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaImage:
		return "image"
	case MediaDocument:
		return "document"
	default:
		return "other"
	}
}

// IncomingMessage описывает личное сообщение, полученное одним из аккаунтов.
// Живёт только в памяти: в БД попадают производные User и Message.
type IncomingMessage struct {
	// Account хранит идентификатор сессии аккаунта-получателя.
	Account string
	// AccountUserID хранит Telegram ID аккаунта-получателя.
	AccountUserID int64

	ChatID    int64
	SenderID  int64
	Username  string
	FirstName string
	LastName  string
	Phone     string

	Text      string
	Media     MediaKind
	MessageID int
	Date      time.Time
}

// Body возвращает текст для уведомления и истории. Вложение заменяется
// только своей меткой, подпись к нему не передаётся.
func (m IncomingMessage) Body() string {
	if m.Media.HasMedia() {
		return m.Media.Tag()
	}
	return m.Text
}

// Sender собирает строку пользователя для сохранения в БД.
func (m IncomingMessage) Sender() User {
	return User{
		ID:        m.SenderID,
		Username:  m.Username,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Phone:     m.Phone,
	}
}
