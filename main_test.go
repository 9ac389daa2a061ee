package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_online/pkg/storage"
)

func TestAccountsListCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "accounts.json")
	t.Setenv("TG_ONLINE_ACCOUNTS_FILE", path)

	store, err := storage.OpenAccountStore(path)
	require.NoError(t, err)
	acc := storage.NewAccount("Рабочий")
	require.NoError(t, store.Add(acc))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"accounts", "list"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SESSION")
	assert.Contains(t, lines[1], "Рабочий")
	assert.Contains(t, lines[1], acc.SessionFile)
}

func TestAccountsListEmpty(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TG_ONLINE_ACCOUNTS_FILE", filepath.Join(t.TempDir(), "none.json"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"accounts", "list"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Нет добавленных аккаунтов\n", out.String())
}

func TestRootRejectsIncompleteConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TG_ONLINE_API_ID", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--setup"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_id")
}
