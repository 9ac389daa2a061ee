// Package httpapi реализует необязательный HTTP API статуса: здоровье процесса,
// работающие аккаунты и история переписки с собеседником.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg_online/internal/middleware"
	"tg_online/internal/supervisor"
	"tg_online/models"
	"tg_online/pkg/storage"
)

const shutdownTimeout = 5 * time.Second

// Status отдаёт состояние аккаунтов.
type Status interface {
	Active() []supervisor.AccountStatus
	BotUsername() string
}

// History ищет собеседника и его историю.
type History interface {
	GetChatHistory(ctx context.Context, query string) (*models.User, []models.Message, error)
}

// Options задаёт токен доступа и логгер.
type Options struct {
	Token  string
	Logger *zap.Logger
}

// RespondError отправляет ошибку в едином формате и прерывает обработку запроса.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

type handler struct {
	status  Status
	history History
	log     *zap.Logger
}

// NewRouter настраивает маршруты.
func NewRouter(status Status, history History, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{status: status, history: history, log: opts.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(opts.Logger))

	r.GET("/health", h.health)

	api := r.Group("/", middleware.AuthRequired(opts.Token))
	api.GET("/accounts", h.accounts)
	api.GET("/users/:username", h.user)

	opts.Logger.Info("[ROUTER] маршруты настроены",
		zap.Strings("routes", []string{"GET /health", "GET /accounts", "GET /users/:username"}))
	return r
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"bot":      h.status.BotUsername(),
		"accounts": len(h.status.Active()),
	})
}

func (h *handler) accounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.status.Active()})
}

func (h *handler) user(c *gin.Context) {
	query := c.Param("username")
	u, msgs, err := h.history.GetChatHistory(c.Request.Context(), query)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		RespondError(c, http.StatusNotFound, "user not found")
		return
	case err != nil:
		h.log.Error("[HTTP] ошибка чтения истории", zap.String("query", query), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "messages": msgs})
}

// Serve обслуживает запросы до отмены контекста, затем мягко останавливает сервер.
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("[HTTP] сервер запущен", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}
