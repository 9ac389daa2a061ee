package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	log.Debug("проверка записи")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if !strings.Contains(string(data), "проверка записи") {
		t.Fatalf("в файле нет записи лога: %s", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}
