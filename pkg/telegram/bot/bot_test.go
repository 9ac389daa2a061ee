package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_online/models"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/relay"
)

const adminID = 1000

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeHistory struct {
	queries []string
	user    *models.User
	msgs    []models.Message
}

func (h *fakeHistory) GetChatHistory(ctx context.Context, query string) (*models.User, []models.Message, error) {
	h.queries = append(h.queries, query)
	if h.user == nil || storage.NormalizeUsername(query) != h.user.Username {
		return nil, nil, storage.ErrUserNotFound
	}
	return h.user, h.msgs, nil
}

func newTestBot(api *fakeAPI, history HistoryStore) *Bot {
	return NewWithAPI(api, tgbotapi.User{ID: 777, UserName: "relay_bot"}, Options{
		AdminID:     adminID,
		CopyTimeout: 50 * time.Millisecond,
		History:     history,
	})
}

func adminUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: adminID}, Text: text}}
}

func TestNormalizeSlashCommand(t *testing.T) {
	assert.Equal(t, "/search", normalizeSlashCommand("/Search@relay_bot"))
	assert.Equal(t, "/поиск", normalizeSlashCommand("/Поиск"))
	assert.Equal(t, "", normalizeSlashCommand("bob"))

	cmd, rest := splitCommand("  /search   @bob ")
	assert.Equal(t, "/search", cmd)
	assert.Equal(t, "@bob", rest)
}

func TestSearchModeIsOneShot(t *testing.T) {
	api := newFakeAPI()
	history := &fakeHistory{
		user: &models.User{ID: 5, Username: "bob", FirstName: "Bob"},
		msgs: []models.Message{
			{Text: "привет", IsIncoming: true, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)},
			{Text: "ответ", IsIncoming: false, Timestamp: time.Date(2024, 1, 2, 3, 5, 0, 0, time.Local)},
		},
	}
	b := newTestBot(api, history)
	ctx := context.Background()

	b.handleUpdate(ctx, adminUpdate("bob"))
	assert.Empty(t, history.queries, "без режима поиска текст игнорируется")

	b.handleUpdate(ctx, adminUpdate("/поиск"))
	b.handleUpdate(ctx, adminUpdate("@bob"))
	b.handleUpdate(ctx, adminUpdate("bob"))
	require.Equal(t, []string{"@bob"}, history.queries)

	texts := api.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, searchPrompt, texts[0])
	assert.Contains(t, texts[1], "Username: @bob")
	assert.Contains(t, texts[2], "➡️ привет\n2024-01-02 03:04:05")
	assert.Contains(t, texts[2], "⬅️ ответ")
}

func TestSearchNotFoundAndInlineArgs(t *testing.T) {
	api := newFakeAPI()
	history := &fakeHistory{}
	b := newTestBot(api, history)

	b.handleUpdate(context.Background(), adminUpdate("/search ghost"))
	require.Equal(t, []string{"ghost"}, history.queries)
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "Пользователь ghost не найден"))
}

func TestNonAdminIgnored(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, &fakeHistory{})
	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "/start"}})
	assert.Empty(t, api.texts())
}

func TestForwardCopy(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, nil)
	b.PrepareCopy(77)

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, ForwardDate: 1, Chat: &tgbotapi.Chat{ID: 77}}})
	b.PrepareCopy(77)
	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 9, ForwardDate: 1, Chat: &tgbotapi.Chat{ID: 77}}})

	require.NoError(t, b.ForwardCopy(context.Background(), 77, adminID))
	require.Len(t, api.sent, 1)
	fwd, ok := api.sent[0].(tgbotapi.ForwardConfig)
	require.True(t, ok)
	assert.Equal(t, int64(adminID), fwd.ChatID)
	assert.Equal(t, int64(77), fwd.FromChatID)
	assert.Equal(t, 9, fwd.MessageID, "устаревшая копия должна быть отброшена")

	require.ErrorIs(t, b.ForwardCopy(context.Background(), 77, adminID), ErrCopyTimeout)
}

func TestSendTextSplitsAndAttachesButton(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, nil)

	text := strings.Repeat("строка истории\n", 500)
	button := &relay.Button{Text: "go", URL: "https://t.me/bob"}
	require.NoError(t, b.SendText(context.Background(), adminID, text, button))

	require.GreaterOrEqual(t, len(api.sent), 2)
	var joined strings.Builder
	for i, c := range api.sent {
		m := c.(tgbotapi.MessageConfig)
		assert.LessOrEqual(t, utf8.RuneCountInString(m.Text), relay.MaxMessageLength)
		assert.Equal(t, tgbotapi.ModeHTML, m.ParseMode)
		if i == len(api.sent)-1 {
			assert.NotNil(t, m.ReplyMarkup)
		} else {
			assert.Nil(t, m.ReplyMarkup)
		}
		joined.WriteString(m.Text)
	}
	assert.Equal(t, text, joined.String())
}

func TestFormatHistoryPages(t *testing.T) {
	assert.Equal(t, []string{historyEmpty}, FormatHistoryPages(nil, relay.MaxMessageLength))

	var msgs []models.Message
	for i := 0; i < 200; i++ {
		msgs = append(msgs, models.Message{Text: strings.Repeat("x", 40), IsIncoming: i%2 == 0, Timestamp: time.Now()})
	}
	pages := FormatHistoryPages(msgs, relay.MaxMessageLength)
	require.GreaterOrEqual(t, len(pages), 2)
	total := 0
	for _, p := range pages {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), relay.MaxMessageLength)
		total += strings.Count(p, "xxxxxxxxxx\n")
	}
	assert.Equal(t, 200, total)
}

func TestFormatHistoryPagesLongFirstEntry(t *testing.T) {
	msgs := []models.Message{
		{Text: strings.Repeat("a&b ", 1000), IsIncoming: true, Timestamp: time.Now()},
		{Text: "коротко", Timestamp: time.Now()},
	}
	pages := FormatHistoryPages(msgs, relay.MaxMessageLength)
	require.GreaterOrEqual(t, len(pages), 2)

	assert.True(t, strings.HasPrefix(pages[0], "<b>История сообщений:</b>\n\n➡️ a&amp;b"), "первая страница не должна состоять из одного заголовка")
	assert.Equal(t, 1, strings.Count(strings.Join(pages, ""), "История сообщений"))
	for _, p := range pages {
		assert.LessOrEqual(t, relay.TextLength(p), relay.MaxMessageLength)
	}
	assert.Contains(t, pages[len(pages)-1], "коротко")
}

func TestRunStopsOnCancel(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, &fakeHistory{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	api.updates <- adminUpdate("/start")

	require.Eventually(t, func() bool { return len(api.texts()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, api.stopped)
}
