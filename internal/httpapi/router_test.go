package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tg_online/internal/supervisor"
	"tg_online/models"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/presence"
)

type fakeStatus struct{ active []supervisor.AccountStatus }

func (f fakeStatus) Active() []supervisor.AccountStatus { return f.active }
func (f fakeStatus) BotUsername() string                { return "online_bot" }

type fakeHistory struct {
	user *models.User
	msgs []models.Message
	err  error
	got  string
}

func (f *fakeHistory) GetChatHistory(ctx context.Context, query string) (*models.User, []models.Message, error) {
	f.got = query
	return f.user, f.msgs, f.err
}

func serve(t *testing.T, r http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func init() { gin.SetMode(gin.TestMode) }

func TestHealth(t *testing.T) {
	r := NewRouter(fakeStatus{active: make([]supervisor.AccountStatus, 2)}, &fakeHistory{}, Options{Token: "x"})
	w := serve(t, r, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "online_bot", body["bot"])
	assert.EqualValues(t, 2, body["accounts"])
}

func TestAccountsRequiresToken(t *testing.T) {
	status := fakeStatus{active: []supervisor.AccountStatus{{
		Name:      "main",
		UserID:    42,
		Connected: true,
		Heartbeat: presence.Stats{Assertions: 5, LastOnline: time.Unix(100, 0).UTC()},
	}}}
	r := NewRouter(status, &fakeHistory{}, Options{Token: "secret"})

	assert.Equal(t, http.StatusUnauthorized, serve(t, r, "/accounts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, r, "/accounts", "wrong").Code)

	w := serve(t, r, "/accounts", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Accounts []supervisor.AccountStatus `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "main", body.Accounts[0].Name)
	assert.EqualValues(t, 5, body.Accounts[0].Heartbeat.Assertions)
}

func TestUserHistory(t *testing.T) {
	h := &fakeHistory{
		user: &models.User{ID: 42, Username: "alice"},
		msgs: []models.Message{{ID: 1, UserID: 42, Text: "привет", IsIncoming: true}},
	}
	r := NewRouter(fakeStatus{}, h, Options{})

	w := serve(t, r, "/users/@alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "@alice", h.got)

	var body struct {
		User     models.User      `json:"user"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(42), body.User.ID)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "привет", body.Messages[0].Text)
}

func TestUserErrors(t *testing.T) {
	r := NewRouter(fakeStatus{}, &fakeHistory{err: storage.ErrUserNotFound}, Options{})
	w := serve(t, r, "/users/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"user not found"}`, w.Body.String())

	r = NewRouter(fakeStatus{}, &fakeHistory{err: errors.New("db is down")}, Options{})
	w = serve(t, r, "/users/ghost", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db is down")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("сервер не остановился после отмены контекста")
	}
}
