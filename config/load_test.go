package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp switches into a fresh temp directory for the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("missing")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "./leave-credits.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.WorkerPool.Size)
	assert.Empty(t, cfg.Policies.File)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "configs"), 0o755))
	content := "SERVER_PORT=9090\nLOG_LEVEL=debug\nDB_PATH=/tmp/test.db\nCORS_ALLOWED_ORIGINS=http://a.test, http://b.test\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "test.env"), []byte(content), 0o644))

	t.Setenv("WORKER_POOL_SIZE", "3")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 3, cfg.WorkerPool.Size)
	assert.Equal(t, "warn", cfg.Logging.Level, "environment wins over the file")
}

func TestLoad_Invalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SERVER_PORT", "70000")
	t.Setenv("WORKER_POOL_SIZE", "0")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "WORKER_POOL_SIZE")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("POLICY_FILE=policies.json\n"), 0o644))
	// godotenv writes into the process environment; restore it afterwards.
	t.Setenv("POLICY_FILE", "")
	require.NoError(t, os.Unsetenv("POLICY_FILE"))

	cfg, err := Load("missing")
	require.NoError(t, err)
	assert.Equal(t, "policies.json", cfg.Policies.File)
}
