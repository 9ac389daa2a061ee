package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tg_online/internal/config"
	"tg_online/internal/console"
	"tg_online/internal/httpapi"
	"tg_online/internal/logger"
	"tg_online/internal/supervisor"
	"tg_online/pkg/storage"
	"tg_online/pkg/telegram/account_mutex"
	"tg_online/pkg/telegram/session"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tg_online",
		Short:         "Держит Telegram-аккаунты в сети и пересылает входящие администратору",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), v)
		},
	}

	cmd.PersistentFlags().String("config", "", "Путь к файлу конфигурации (необязательно)")
	cmd.Flags().Bool("use-proxy", false, "Подключаться через SOCKS5 прокси (по умолчанию 127.0.0.1:9050)")
	cmd.Flags().Bool("setup", false, "Открыть меню управления аккаунтами")

	cmd.AddCommand(newAccountsCmd())
	return cmd
}

// loadViper читает конфигурацию и привязывает к ней флаги команды.
func loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{"use_proxy": "use-proxy", "setup": "setup"} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", flag)
			}
		}
	}
	return v, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("[CONFIG] некорректная конфигурация", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := storage.OpenAccountStore(cfg.AccountsFile)
	if err != nil {
		log.Error("[ACCOUNTS] не удалось прочитать файл аккаунтов", zap.Error(err))
		return err
	}

	sessionOpts := session.Options{
		APIID:         cfg.APIID,
		APIHash:       cfg.APIHash,
		Dir:           cfg.SessionsDir,
		Proxy:         cfg.ProxyConfig(),
		PeerCacheSize: cfg.PeerCacheSize,
		Logger:        log.Named("session"),
	}
	if cfg.Setup || accounts.Len() == 0 {
		menu := console.New(console.Options{
			Accounts:    accounts,
			SessionsDir: cfg.SessionsDir,
			Login:       console.SessionLogin(sessionOpts),
			Logger:      log.Named("setup"),
		})
		start, err := menu.Run(ctx)
		if err != nil {
			return err
		}
		if !start {
			log.Info("выход без запуска")
			return nil
		}
	}

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, log.Named("storage"))
	if err != nil {
		log.Error("[DB] не удалось открыть базу сообщений", zap.Error(err))
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("[DB] ошибка закрытия", zap.Error(err))
		}
	}()

	sup := supervisor.New(supervisor.Options{
		Config:   cfg,
		Accounts: accounts,
		Store:    db,
		Locks:    account_mutex.New(log.Named("mutex")),
		Logger:   log.Named("supervisor"),
	})

	httpDone := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		router := httpapi.NewRouter(sup, db, httpapi.Options{Token: cfg.HTTPToken, Logger: log.Named("http")})
		go func() { httpDone <- httpapi.Serve(ctx, cfg.HTTPAddr, router, log.Named("http")) }()
	} else {
		httpDone <- nil
	}

	log.Info("запуск", zap.Int("accounts", accounts.Len()), zap.Bool("proxy", cfg.UseProxy))
	runErr := sup.Run(ctx)
	stop()
	if err := <-httpDone; err != nil {
		log.Error("[HTTP] сервер завершился с ошибкой", zap.Error(err))
	}
	return runErr
}
