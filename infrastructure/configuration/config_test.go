package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration_Defaults(t *testing.T) {
	cfg := &Config{}
	initDatabase(cfg)
	initApp(cfg)
	initTasks(cfg)

	require.NotZero(t, cfg.App.Port)
	assert.Equal(t, "post_mirror", cfg.Database.Mongo.Name)
	assert.Equal(t, 50, cfg.Tasks.FetchExpectedAmount)
	assert.Equal(t, 7*24*3600, cfg.Tasks.MetricsMaxSeconds)
	assert.Equal(t, 3600, cfg.Tasks.MetricsBaseSeconds)
	assert.NotEmpty(t, cfg.ServiceBus.Queue)
	assert.NotEmpty(t, cfg.RedisClient.SignalChannel)
}

func TestConfiguration_EnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "8088")
	t.Setenv("TASKS_TRANSPORT", "servicebus")
	t.Setenv("STORE", "mongo")
	cfg := &Config{}
	initApp(cfg)
	initTasks(cfg)

	assert.Equal(t, 8088, cfg.App.Port)
	assert.Equal(t, "servicebus", cfg.Tasks.Transport)
	assert.Equal(t, "mongo", cfg.App.Store)
}

func TestTasks_QueueLookupIsCaseInsensitive(t *testing.T) {
	tasks := Tasks{Queues: map[string]Queue{"fetchuserposts-twitter": {MaxConcurrentDispatches: 2}}}
	q, ok := tasks.Queue("fetchUserPosts-twitter")
	require.True(t, ok)
	assert.Equal(t, 2, q.MaxConcurrentDispatches)
}

func TestLoadEnvFromFile_SkipsMissingAndKeepsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	require.NoError(t, os.WriteFile(path, []byte("# local\nPM_TEST_FROM_FILE=\"file value\"\nPM_TEST_PRESET=file\n"), 0o600))
	t.Setenv("PM_TEST_PRESET", "env")
	t.Setenv("PM_TEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("PM_TEST_FROM_FILE"))

	require.NoError(t, LoadEnvFromFile(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "file value", os.Getenv("PM_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("PM_TEST_PRESET"))
}

func TestLoadEnvFromFile_NothingToLoad(t *testing.T) {
	assert.NoError(t, LoadEnvFromFile(filepath.Join(t.TempDir(), ".env")))
}
