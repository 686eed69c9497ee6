package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_MemoryDriverDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: case-portal
store:
  driver: memory
workers:
  apply-agent-decision:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, ProgramSourceStore, cfg.Store.ProgramSource)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3000, cfg.Portal.ReceiptConfirmDelay)
	assert.Equal(t, "/my-service", cfg.Portal.ReceiptRedirectPath)
	assert.Equal(t, "documents/", cfg.Portal.DocumentPrefix)
	assert.Equal(t, "profile_photos/", cfg.Portal.PhotoPrefix)

	w := GetWorkerConfig(cfg, "apply-agent-decision")
	assert.True(t, w.Enabled)
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 30000, w.Timeout)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("PORTAL_DB_PASSWORD", "s3cret")
	t.Setenv("PORTAL_BUCKET", "case-docs")

	path := writeConfig(t, `
store:
  driver: postgres
database:
  postgres:
    host: localhost
    database: portal
    user: portal
    password: ${PORTAL_DB_PASSWORD}
  redis:
    address: localhost:6379
storage:
  s3:
    bucket: ${PORTAL_BUCKET}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, "case-docs", cfg.Storage.S3.Bucket)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Contains(t, cfg.Database.Postgres.GetDSN(), "dbname=portal")
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			body:    "store:\n  driver: sqlite\n",
			wantErr: "store.driver",
		},
		{
			name:    "postgres without host",
			body:    "store:\n  driver: postgres\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "elasticsearch programs without address",
			body:    "store:\n  driver: memory\n  program_source: elasticsearch\n",
			wantErr: "database.elasticsearch",
		},
		{
			name:    "camunda enabled without broker",
			body:    "store:\n  driver: memory\ncamunda:\n  enabled: true\n",
			wantErr: "camunda.broker_address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsWorkerEnabled(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"send-status-notification": {Enabled: false}}}

	assert.False(t, IsWorkerEnabled(cfg, "send-status-notification"))
	assert.True(t, IsWorkerEnabled(cfg, "apply-agent-decision"))
}
