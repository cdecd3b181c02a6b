package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: staging
store: memory
notifications:
  backend: memory
  max_retries: 5
  initial_interval: 250ms
outbox:
  interval: 2s
jwt:
  secret: from-file
`), 0o600))

	t.Setenv("HOMEFLOW_JWT_SECRET", "from-env")
	t.Setenv("HOMEFLOW_HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Env)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 5, cfg.Notifications.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Notifications.InitialInterval)
	require.Equal(t, 2*time.Second, cfg.Outbox.Interval)
	require.Equal(t, 50, cfg.Outbox.BatchSize)
	require.Equal(t, "from-env", cfg.JWT.Secret)
	require.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.JWT.Secret = "s"
	require.Error(t, cfg.Validate(), "postgres store without database url")

	cfg.DatabaseURL = "postgres://localhost/homeflow"
	require.NoError(t, cfg.Validate())

	cfg.Notifications.Backend = NotificationsMongo
	require.Error(t, cfg.Validate(), "mongo backend without uri")

	cfg.Mongo.URI = "mongodb://localhost:27017"
	require.NoError(t, cfg.Validate())

	cfg.Store = StoreMemory
	cfg.Notifications.Backend = NotificationsPostgres
	require.Error(t, cfg.Validate(), "postgres notifications need postgres store")
}

func TestApplyEnv_BadDuration(t *testing.T) {
	cfg := Default()
	env := map[string]string{"HOMEFLOW_OUTBOX_INTERVAL": "soon"}
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.ErrorContains(t, err, "HOMEFLOW_OUTBOX_INTERVAL")
}
