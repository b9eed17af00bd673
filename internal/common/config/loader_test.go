package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	path := writeFile(t, `
database:
  redis:
    address: localhost:6379
crm:
  dynamics:
    url: https://org.crm.dynamics.com/
    tenant_id: tenant-1
    client_id: client
    client_secret: secret
workers:
  dialog-turn:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "crm-dialogs", cfg.App.Name)
	assert.Equal(t, CRMBackendDynamics, cfg.CRM.Backend)
	assert.Equal(t, "9.2", cfg.CRM.Dynamics.APIVersion)
	assert.Equal(t, 86400, cfg.Dialogs.StateTTL)
	assert.Equal(t, 3, cfg.Dialogs.ChoiceMaxAttempts)
	assert.Equal(t, 2, cfg.Dialogs.FormsPerRecord)
	assert.Equal(t, ":3978", cfg.HTTP.Address)
	assert.Equal(t, "crm-dialogs", cfg.Observability.ServiceName)

	worker := GetWorkerConfig(cfg, "dialog-turn")
	assert.True(t, worker.Enabled)
	assert.Equal(t, 5, worker.MaxJobsActive)
	assert.Equal(t, 30000, worker.Timeout)
	assert.True(t, IsWorkerEnabled(cfg, "unknown"))

	assert.Equal(t, "https://login.microsoftonline.com/tenant-1/oauth2/v2.0/token", cfg.CRM.Dynamics.GetTokenURL())
	assert.Equal(t, "https://org.crm.dynamics.com/.default", cfg.CRM.Dynamics.GetScope())
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("E2E_REDIS_ADDR", "redis:6380")
	t.Setenv("DB_PASSWORD", "from-env")
	path := writeFile(t, `
database:
  redis:
    address: ${E2E_REDIS_ADDR}
  postgres:
    host: db
    database: crm
    user: crm
crm:
  backend: postgres
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.Database.Redis.Address)
	assert.Equal(t, "from-env", cfg.Database.Postgres.Password)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Contains(t, cfg.Database.Postgres.GetDSN(), "dbname=crm")
}

func TestLoadFromFile_Invalid(t *testing.T) {
	for _, key := range []string{"DYNAMICS_URL", "DYNAMICS_TENANT_ID", "DYNAMICS_CLIENT_ID", "DYNAMICS_CLIENT_SECRET", "DB_USER"} {
		t.Setenv(key, "")
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing redis",
			content: "crm:\n  backend: postgres\n",
			wantErr: "database.redis.address",
		},
		{
			name:    "unknown backend",
			content: "database:\n  redis:\n    address: r:6379\ncrm:\n  backend: salesforce\n",
			wantErr: "crm.backend",
		},
		{
			name:    "dynamics without credentials",
			content: "database:\n  redis:\n    address: r:6379\ncrm:\n  dynamics:\n    url: https://org\n",
			wantErr: "client_id",
		},
		{
			name:    "camunda without broker",
			content: "camunda:\n  enabled: true\ndatabase:\n  redis:\n    address: r:6379\n",
			wantErr: "camunda.broker_address",
		},
		{
			name:    "postgres without host",
			content: "database:\n  redis:\n    address: r:6379\ncrm:\n  backend: postgres\n",
			wantErr: "database.postgres.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}
