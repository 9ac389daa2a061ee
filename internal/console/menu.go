// Package console реализует интерактивное меню управления аккаунтами.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/term"

	"tg_online/models"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/accounts_auth"
	"tg_online/pkg/telegram/session"
)

// LoginFunc выполняет вход в новый аккаунт и возвращает его с актуальным номером.
type LoginFunc func(ctx context.Context, acc models.Account, a auth.UserAuthenticator) (models.Account, error)

// Options перечисляет зависимости меню.
type Options struct {
	In          io.Reader
	Out         io.Writer
	Accounts    *storage.AccountStore
	SessionsDir string
	Login       LoginFunc
	// ReadPassword читает пароль без эха. По умолчанию используется x/term, если ввод идёт с терминала.
	ReadPassword func() (string, error)
	Logger       *zap.Logger
}

// Menu показывается перед запуском для настройки аккаунтов.
type Menu struct {
	in           *bufio.Reader
	out          io.Writer
	accounts     *storage.AccountStore
	sessionsDir  string
	login        LoginFunc
	readPassword func() (string, error)
	log          *zap.Logger

	title *color.Color
	info  *color.Color
	ok    *color.Color
	fail  *color.Color
}

// New создаёт меню. Пустые In и Out заменяются на stdin и stdout.
func New(opts Options) *Menu {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := &Menu{
		in:          bufio.NewReader(opts.In),
		out:         opts.Out,
		accounts:    opts.Accounts,
		sessionsDir: opts.SessionsDir,
		login:       opts.Login,
		log:         opts.Logger,
		title:       color.New(color.FgCyan),
		info:        color.New(color.FgYellow),
		ok:          color.New(color.FgGreen),
		fail:        color.New(color.FgRed),
	}
	m.readPassword = opts.ReadPassword
	if m.readPassword == nil {
		m.readPassword = m.defaultReadPassword(opts.In)
	}
	return m
}

// defaultReadPassword скрывает ввод, если stdin является терминалом.
func (m *Menu) defaultReadPassword(in io.Reader) func() (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return m.readLine
	}
	return func() (string, error) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(m.out)
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		return string(b), nil
	}
}

func (m *Menu) readLine() (string, error) {
	line, err := m.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (m *Menu) prompt(text string) (string, error) {
	m.info.Fprint(m.out, text)
	return m.readLine()
}

// Run показывает меню до выбора «Запустить» (true) или «Выйти» (false).
// Конец ввода равносилен выходу.
func (m *Menu) Run(ctx context.Context) (bool, error) {
	for {
		m.printAccounts()
		fmt.Fprintln(m.out)
		m.title.Fprintln(m.out, "Выберите действие:")
		fmt.Fprintln(m.out, "1. Добавить аккаунт")
		fmt.Fprintln(m.out, "2. Удалить аккаунт")
		fmt.Fprintln(m.out, "3. Запустить")
		fmt.Fprintln(m.out, "4. Выйти")

		choice, err := m.prompt("Ваш выбор: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}

		switch choice {
		case "1":
			if err := m.AddAccount(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					return false, nil
				}
				m.fail.Fprintf(m.out, "Не удалось добавить аккаунт: %v\n", err)
			}
		case "2":
			if err := m.RemoveAccount(); err != nil {
				if errors.Is(err, io.EOF) {
					return false, nil
				}
				m.fail.Fprintf(m.out, "Не удалось удалить аккаунт: %v\n", err)
			}
		case "3":
			if m.accounts.Len() == 0 {
				m.fail.Fprintln(m.out, "Сначала добавьте хотя бы один аккаунт")
				continue
			}
			m.ok.Fprintln(m.out, "Запуск...")
			return true, nil
		case "4":
			return false, nil
		default:
			m.fail.Fprintln(m.out, "Неверный выбор")
		}
	}
}

func (m *Menu) printAccounts() {
	accounts := m.accounts.List()
	fmt.Fprintln(m.out)
	m.title.Fprintln(m.out, "======== УПРАВЛЕНИЕ АККАУНТАМИ ========")
	m.info.Fprintf(m.out, "Текущие аккаунты (%d/%d):\n", len(accounts), models.MaxAccounts)
	if len(accounts) == 0 {
		fmt.Fprintln(m.out, "Нет добавленных аккаунтов")
		return
	}
	for i, acc := range accounts {
		fmt.Fprintf(m.out, "%d. %s\n", i+1, acc.Label())
	}
}

// AddAccount спрашивает название, выполняет вход и только после
// успешной авторизации сохраняет аккаунт.
func (m *Menu) AddAccount(ctx context.Context) error {
	if m.accounts.Len() >= models.MaxAccounts {
		m.fail.Fprintf(m.out, "Достигнут максимальный лимит аккаунтов (%d)\n", models.MaxAccounts)
		return nil
	}
	name, err := m.prompt("Введите название аккаунта (для вашего удобства): ")
	if err != nil {
		return err
	}
	if name == "" {
		m.fail.Fprintln(m.out, "Название не может быть пустым")
		return nil
	}

	acc := storage.NewAccount(name)
	m.info.Fprintf(m.out, "Выполняем авторизацию для аккаунта %s...\n", name)
	logged, err := m.login(ctx, acc, m.authenticator(acc))
	if err != nil {
		m.log.Warn("[SETUP] авторизация не удалась", zap.String("account", name), zap.Error(err))
		if rmErr := session.RemoveFiles(m.sessionsDir, acc.SessionFile); rmErr != nil {
			m.log.Warn("[SETUP] не удалось удалить файл сессии", zap.Error(rmErr))
		}
		m.fail.Fprintf(m.out, "Не удалось авторизовать аккаунт %s. Аккаунт не добавлен.\n", name)
		return nil
	}
	if err := m.accounts.Add(logged); err != nil {
		return err
	}
	m.ok.Fprintf(m.out, "Аккаунт %s успешно добавлен и авторизован\n", logged.Label())
	return nil
}

func (m *Menu) authenticator(acc models.Account) accounts_auth.AuthHelper {
	return accounts_auth.NewAuthHelper(
		func(ctx context.Context) (string, error) {
			return m.prompt(fmt.Sprintf("Введите номер телефона для %s: ", acc.Name))
		},
		func(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
			return m.prompt("Введите код из Telegram: ")
		},
		func(ctx context.Context) (string, error) {
			m.info.Fprint(m.out, "Введите пароль двухфакторной аутентификации: ")
			return m.readPassword()
		},
	)
}

// RemoveAccount удаляет выбранный аккаунт вместе с файлом сессии.
func (m *Menu) RemoveAccount() error {
	accounts := m.accounts.List()
	if len(accounts) == 0 {
		m.fail.Fprintln(m.out, "Нет добавленных аккаунтов")
		return nil
	}
	m.info.Fprintln(m.out, "Список аккаунтов:")
	for i, acc := range accounts {
		fmt.Fprintf(m.out, "%d. %s\n", i+1, acc.Label())
	}

	raw, err := m.prompt("Выберите номер аккаунта для удаления (0 для отмены): ")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		m.fail.Fprintln(m.out, "Пожалуйста, введите число")
		return nil
	}
	if n == 0 {
		return nil
	}
	if n < 1 || n > len(accounts) {
		m.fail.Fprintln(m.out, "Неверный выбор")
		return nil
	}

	answer, err := m.prompt(fmt.Sprintf("Удалить аккаунт %s? (y/n): ", accounts[n-1].Name))
	if err != nil {
		return err
	}
	if !isYes(answer) {
		return nil
	}

	acc, err := m.accounts.Remove(n - 1)
	if err != nil {
		return err
	}
	if err := session.RemoveFiles(m.sessionsDir, acc.SessionFile); err != nil {
		m.log.Error("[SETUP] ошибка удаления файла сессии", zap.String("session", acc.SessionFile), zap.Error(err))
	}
	m.ok.Fprintf(m.out, "Аккаунт %s удален\n", acc.Name)
	return nil
}

func isYes(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes", "д", "да":
		return true
	}
	return false
}

// SessionLogin возвращает LoginFunc, который подключается через session.Client.
func SessionLogin(opts session.Options) LoginFunc {
	// Аккаунт ещё не сохранён, номер возвращается вызывающему.
	opts.OnPhoneChanged = nil
	return func(ctx context.Context, acc models.Account, a auth.UserAuthenticator) (models.Account, error) {
		client, err := session.New(acc, opts)
		if err != nil {
			return acc, err
		}
		if err := client.Connect(ctx); err != nil {
			return acc, err
		}
		defer func() { _ = client.Disconnect() }()

		if err := client.Authenticate(ctx, a); err != nil {
			return acc, err
		}
		return client.Account(), nil
	}
}
