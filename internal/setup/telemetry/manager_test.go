package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mellow-sync/mellow/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggersCreatesSession(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	manager := NewManager(ServiceBot, logDir, &config.Debug{LogLevel: "debug", MaxLogsToKeep: 3}, nil)

	mainLogger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	mainLogger.Info("hello")
	dbLogger.Info("query")
	require.NoError(t, mainLogger.Sync())

	content, err := os.ReadFile(filepath.Join(manager.GetCurrentSessionDir(), "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
	assert.Contains(t, string(content), manager.GetInstanceID())
	assert.FileExists(t, filepath.Join(manager.GetCurrentSessionDir(), "database.log"))
}

func TestGetLoggersInvalidLevel(t *testing.T) {
	t.Parallel()

	manager := NewManager(ServiceBot, t.TempDir(), &config.Debug{LogLevel: "loud", MaxLogsToKeep: 3}, nil)

	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}

func TestRotateLogSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"a", "b", "c", "d"} {
		path := filepath.Join(logDir, name)
		require.NoError(t, os.Mkdir(path, 0o755))

		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	manager := NewManager(ServiceMigrate, logDir, &config.Debug{LogLevel: "info", MaxLogsToKeep: 3}, nil)
	require.NoError(t, manager.rotateLogSessions())

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	assert.ElementsMatch(t, []string{"c", "d"}, names)
}

func TestErrorCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		function string
		want     string
	}{
		{name: "sync engine", function: "github.com/mellow-sync/mellow/internal/sync.(*Engine).SyncMember", want: "sync"},
		{name: "database model", function: "github.com/mellow-sync/mellow/internal/database/models.(*UserModel).Get", want: "database"},
		{name: "outside internal", function: "main.run", want: "application"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ErrorCategory(tt.function))
		})
	}
}

func TestGetRequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Bot: config.BotConfig{RequestTimeout: 5000}}

	assert.Equal(t, 5*time.Second, ServiceBot.GetRequestTimeout(cfg))
	assert.Equal(t, 30*time.Second, ServiceMigrate.GetRequestTimeout(cfg))
}
