package relay

import (
	"strings"

	"github.com/gotd/td/tg"

	"tg_online/models"
)

// Classify определяет вид вложения сообщения. Это единственное место,
// где разбираются сырые типы медиа: дальше код работает только с MediaKind.
func Classify(media tg.MessageMediaClass) models.MediaKind {
	switch m := media.(type) {
	case nil:
		return models.MediaNone
	case *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		// Превью ссылки считается текстом.
		return models.MediaNone
	case *tg.MessageMediaPhoto:
		return models.MediaPhoto
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return models.MediaDocument
		}
		return ClassifyDocument(doc.MimeType, hasStickerAttribute(doc.Attributes))
	default:
		return models.MediaOther
	}
}

// ClassifyDocument классифицирует документ по MIME-типу. Признак стикера важнее MIME.
func ClassifyDocument(mimeType string, sticker bool) models.MediaKind {
	if sticker {
		return models.MediaSticker
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return models.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.MediaAudio
	case strings.HasPrefix(mimeType, "image/"):
		return models.MediaImage
	default:
		return models.MediaDocument
	}
}

func hasStickerAttribute(attrs []tg.DocumentAttributeClass) bool {
	for _, attr := range attrs {
		if _, ok := attr.(*tg.DocumentAttributeSticker); ok {
			return true
		}
	}
	return false
}
