package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_online/models"
)

type sentText struct {
	chatID int64
	text   string
	button *Button
}

type fakeNotifier struct {
	username   string
	prepared   []int64
	copyErr    error
	copies     []int64
	sendErr    error
	sent       []sentText
	panicOnMsg bool
}

func (n *fakeNotifier) Username() string { return n.username }

func (n *fakeNotifier) PrepareCopy(accountUserID int64) {
	n.prepared = append(n.prepared, accountUserID)
}

func (n *fakeNotifier) ForwardCopy(ctx context.Context, accountUserID, toChatID int64) error {
	if n.copyErr != nil {
		return n.copyErr
	}
	n.copies = append(n.copies, toChatID)
	return nil
}

func (n *fakeNotifier) SendText(ctx context.Context, chatID int64, text string, button *Button) error {
	if n.panicOnMsg {
		panic("boom")
	}
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, sentText{chatID: chatID, text: text, button: button})
	return nil
}

type savedMessage struct {
	user models.User
	text string
}

type fakeStore struct {
	err   error
	saved []savedMessage
}

func (s *fakeStore) SaveMessage(ctx context.Context, u models.User, text string, incoming bool) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, savedMessage{user: u, text: text})
	return nil
}

type fakeSource struct {
	err      error
	forwards []string
}

func (s *fakeSource) ForwardToUsername(ctx context.Context, fromChatID int64, msgID int, username string) error {
	if s.err != nil {
		return s.err
	}
	s.forwards = append(s.forwards, username)
	return nil
}

const adminID = 1000

func newTestRelay(n *fakeNotifier, s *fakeStore) *Relay {
	return New(n, s, Options{
		AdminID:   adminID,
		IsIgnored: func(id int64) bool { return id == 555 },
	})
}

func textMessage() models.IncomingMessage {
	return models.IncomingMessage{
		Account:       "telegram_session_1",
		AccountUserID: 77,
		ChatID:        42,
		SenderID:      42,
		Username:      "alice",
		Text:          "привет <b>",
		MessageID:     10,
	}
}

func TestClassify(t *testing.T) {
	sticker := &tg.Document{MimeType: "video/webm", Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}}}
	cases := []struct {
		name  string
		media tg.MessageMediaClass
		want  models.MediaKind
	}{
		{"нет медиа", nil, models.MediaNone},
		{"превью ссылки", &tg.MessageMediaWebPage{}, models.MediaNone},
		{"фото", &tg.MessageMediaPhoto{}, models.MediaPhoto},
		{"видео", &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "video/mp4"}}, models.MediaVideo},
		{"аудио", &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "audio/mpeg"}}, models.MediaAudio},
		{"картинка", &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "image/png"}}, models.MediaImage},
		{"неизвестный MIME", &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "application/x-unknown"}}, models.MediaDocument},
		{"стикер важнее MIME", &tg.MessageMediaDocument{Document: sticker}, models.MediaSticker},
		{"пустой документ", &tg.MessageMediaDocument{}, models.MediaDocument},
		{"геопозиция", &tg.MessageMediaGeo{}, models.MediaOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.media))
		})
	}
}

func TestClassifyDocumentTags(t *testing.T) {
	assert.Equal(t, "🎬 [Видео]", ClassifyDocument("video/mp4", false).Tag())
	assert.Equal(t, "🎵 [Аудио]", ClassifyDocument("audio/mpeg", false).Tag())
	assert.Equal(t, "📱 [Медиа]", ClassifyDocument("application/pdf", false).Tag())
	assert.Equal(t, "📱 [Стикер]", ClassifyDocument("audio/mpeg", true).Tag())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "@alice", DisplayName("alice", "A", "B", 1))
	assert.Equal(t, "A B", DisplayName("", "A", "B", 1))
	assert.Equal(t, "A", DisplayName("", "A", "", 1))
	assert.Equal(t, "user_id:7", DisplayName("", "", "", 7))
}

func TestSplitText(t *testing.T) {
	var b strings.Builder
	for b.Len() < 7000 {
		b.WriteString("➡️ строка истории\n2024-01-01 10:00:00\n\n")
	}
	text := b.String()

	chunks := SplitText(text, MaxMessageLength)
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), MaxMessageLength)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))

	long := strings.Repeat("я", 6500)
	chunks = SplitText(long, MaxMessageLength)
	require.Len(t, chunks, 3)
	assert.Equal(t, long, strings.Join(chunks, ""))

	assert.Equal(t, []string{"коротко"}, SplitText("коротко", MaxMessageLength))
}

func TestSplitTextKeepsEntitiesWhole(t *testing.T) {
	text := FormatNotification(strings.Repeat("a&", 1400), "@x", 1)

	chunks := SplitText(text, MaxMessageLength)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, TextLength(c), MaxMessageLength)
		last := strings.LastIndex(c, "&")
		assert.True(t, last < 0 || strings.Contains(c[last:], ";"), "часть обрывается внутри сущности")
		assert.Equal(t, strings.Count(c, "<"), strings.Count(c, ">"), "часть обрывается внутри тега")
		assert.Equal(t, strings.Count(c, "<b>"), strings.Count(c, "</b>"), "элемент <b> разорван между частями")
	}
}

func TestSplitTextCountsUTF16(t *testing.T) {
	text := strings.Repeat("😀", 2000)
	require.Equal(t, 4000, TextLength(text))

	chunks := SplitText(text, MaxMessageLength)
	require.Len(t, chunks, 2)
	assert.Equal(t, MaxMessageLength, TextLength(chunks[0]))
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestFormatNotification(t *testing.T) {
	text := FormatNotification("a < b", "@alice", 1)
	assert.True(t, strings.HasPrefix(text, "<b>Новое сообщение!</b>"))
	assert.Contains(t, text, "a &lt; b")
	assert.Contains(t, text, "(@alice)")

	assert.True(t, strings.HasPrefix(FormatNotification("x", "y", 3), "<b>Сообщение (3)!</b>"))
}

func TestRelaySkipsAdminAndIgnored(t *testing.T) {
	n, s := &fakeNotifier{username: "relay_bot"}, &fakeStore{}
	r := newTestRelay(n, s)

	for _, sender := range []int64{adminID, 555} {
		in := textMessage()
		in.SenderID = sender
		out, err := r.Relay(context.Background(), in, &fakeSource{}, 1)
		require.NoError(t, err)
		assert.Equal(t, Skipped, out)
	}
	assert.Empty(t, n.sent)
	assert.Empty(t, s.saved)
}

func TestRelayTextMessage(t *testing.T) {
	n, s := &fakeNotifier{username: "relay_bot"}, &fakeStore{}
	r := newTestRelay(n, s)

	out, err := r.Relay(context.Background(), textMessage(), &fakeSource{}, 0)
	require.NoError(t, err)
	assert.Equal(t, TextSent, out)

	require.Len(t, s.saved, 1)
	assert.Equal(t, int64(42), s.saved[0].user.ID)
	assert.Equal(t, "привет <b>", s.saved[0].text)

	require.Len(t, n.sent, 1)
	assert.Equal(t, int64(adminID), n.sent[0].chatID)
	assert.Contains(t, n.sent[0].text, "привет &lt;b&gt;")
	require.NotNil(t, n.sent[0].button)
	assert.Equal(t, "https://t.me/alice", n.sent[0].button.URL)
}

func TestRelayNumericOnlyLink(t *testing.T) {
	n, s := &fakeNotifier{username: "relay_bot"}, &fakeStore{}
	in := textMessage()
	in.Username = ""

	_, err := newTestRelay(n, s).Relay(context.Background(), in, nil, 1)
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "tg://user?id=42", n.sent[0].button.URL)
	assert.Contains(t, n.sent[0].text, "user_id:42")
}

func TestRelayMediaTwoHop(t *testing.T) {
	n, s, src := &fakeNotifier{username: "relay_bot"}, &fakeStore{}, &fakeSource{}
	in := textMessage()
	in.Text = ""
	in.Media = models.MediaPhoto

	out, err := newTestRelay(n, s).Relay(context.Background(), in, src, 1)
	require.NoError(t, err)
	assert.Equal(t, MediaForwarded, out)
	assert.Equal(t, []string{"relay_bot"}, src.forwards)
	assert.Equal(t, []int64{77}, n.prepared)
	assert.Equal(t, []int64{adminID}, n.copies)
	assert.Empty(t, n.sent)
	assert.Empty(t, s.saved)
}

func TestRelayMediaFallsBackToTag(t *testing.T) {
	for name, setup := range map[string]func(n *fakeNotifier, src *fakeSource){
		"первый шаг": func(n *fakeNotifier, src *fakeSource) { src.err = errors.New("CHAT_FORWARDS_RESTRICTED") },
		"второй шаг": func(n *fakeNotifier, src *fakeSource) { n.copyErr = errors.New("timeout") },
	} {
		t.Run(name, func(t *testing.T) {
			n, s, src := &fakeNotifier{username: "relay_bot"}, &fakeStore{}, &fakeSource{}
			setup(n, src)
			in := textMessage()
			in.Media = models.MediaVideo

			out, err := newTestRelay(n, s).Relay(context.Background(), in, src, 1)
			require.NoError(t, err)
			assert.Equal(t, TextSent, out)
			require.Len(t, s.saved, 1)
			assert.Equal(t, "🎬 [Видео]", s.saved[0].text, "подпись к вложению не попадает в историю")
			require.Len(t, n.sent, 1)
			assert.Contains(t, n.sent[0].text, "🎬 [Видео]")
			assert.NotContains(t, n.sent[0].text, "привет")
		})
	}
}

func TestRelayPersistenceErrorStillNotifies(t *testing.T) {
	n, s := &fakeNotifier{username: "relay_bot"}, &fakeStore{err: errors.New("disk full")}

	out, err := newTestRelay(n, s).Relay(context.Background(), textMessage(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, TextSent, out)
	assert.Len(t, n.sent, 1)
}

func TestRelaySendFailureAndPanic(t *testing.T) {
	n, s := &fakeNotifier{username: "relay_bot", sendErr: errors.New("bot blocked")}, &fakeStore{}
	out, err := newTestRelay(n, s).Relay(context.Background(), textMessage(), nil, 1)
	require.Error(t, err)
	assert.Equal(t, Failed, out)

	n = &fakeNotifier{username: "relay_bot", panicOnMsg: true}
	require.NotPanics(t, func() {
		out, err = newTestRelay(n, &fakeStore{}).Relay(context.Background(), textMessage(), nil, 1)
	})
	require.Error(t, err)
	assert.Equal(t, Failed, out)
}

func TestUnavailable(t *testing.T) {
	out, err := Unavailable{}.Relay(context.Background(), textMessage(), nil, 1)
	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, ErrUnavailable)
}
