package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tg_online/internal/config"
	"tg_online/pkg/storage"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Работа с файлом аккаунтов",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Показать сохранённые аккаунты",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			accounts, err := storage.OpenAccountStore(cfg.AccountsFile)
			if err != nil {
				return err
			}
			return printAccounts(cmd, accounts)
		},
	})
	return cmd
}

func printAccounts(cmd *cobra.Command, accounts *storage.AccountStore) error {
	list := accounts.List()
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "Нет добавленных аккаунтов")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tPHONE\tSESSION")
	for i, acc := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, acc.Name, acc.Phone, acc.SessionFile)
	}
	return w.Flush()
}
