// Package accounts_auth содержит помощник интерактивного входа в аккаунт.
package accounts_auth

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrSignUpNotSupported возвращается при попытке регистрации нового аккаунта.
var ErrSignUpNotSupported = errors.New("регистрация новых аккаунтов не поддерживается")

// PhoneProvider возвращает номер телефона для входа.
type PhoneProvider func(ctx context.Context) (string, error)

// CodeProvider возвращает код подтверждения из Telegram или SMS.
type CodeProvider func(ctx context.Context, sent *tg.AuthSentCode) (string, error)

// PasswordProvider возвращает пароль двухфакторной авторизации.
type PasswordProvider func(ctx context.Context) (string, error)

// AuthHelper реализует auth.UserAuthenticator поверх провайдеров.
type AuthHelper struct {
	phone    PhoneProvider
	code     CodeProvider
	password PasswordProvider
}

var _ auth.UserAuthenticator = AuthHelper{}

// NewAuthHelper собирает помощник. password может быть nil, если 2FA не ожидается.
func NewAuthHelper(phone PhoneProvider, code CodeProvider, password PasswordProvider) AuthHelper {
	return AuthHelper{phone: phone, code: code, password: password}
}

// SignUp реализует auth.UserAuthenticator (для новых регистраций)
func (a AuthHelper) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignUpNotSupported
}

func (a AuthHelper) Phone(ctx context.Context) (string, error) {
	phone, err := a.phone(ctx)
	if err != nil {
		return "", err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", errors.New("номер телефона не указан")
	}
	return phone, nil
}

func (a AuthHelper) Password(ctx context.Context) (string, error) {
	if a.password == nil {
		return "", auth.ErrPasswordNotProvided
	}
	return a.password(ctx)
}

func (a AuthHelper) Code(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
	code, err := a.code(ctx, sent)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

func (a AuthHelper) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}
