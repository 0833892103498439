package cliutil

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, err := SetupSlog(LogOptions{LogLevel: "warn", LogFormat: "json", Output: &buf})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "post", "abc")
	assert.NotContains(buf.String(), "hidden")
	assert.Contains(buf.String(), `"post":"abc"`)

	_, err = SetupSlog(LogOptions{LogLevel: "loud"})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{LogLevel: "info", LogFormat: "xml"})
	assert.Error(err)
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	db, err := SetupDatabase("sqlite://file:cliutil?mode=memory&cache=shared", 4)
	require.NoError(t, err)
	assert.NoError(db.Exec("SELECT 1").Error)

	path := filepath.Join(t.TempDir(), "nested", "moderation.sqlite")
	db, err = SetupDatabase("sqlite="+path, 1)
	require.NoError(t, err)
	assert.NoError(db.Exec("SELECT 1").Error)
	assert.FileExists(path)

	_, err = SetupDatabase("mysql://localhost/db", 1)
	assert.Error(err)
}
