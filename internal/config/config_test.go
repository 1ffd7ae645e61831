package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.AppHost)
	require.Equal(t, "8098", cfg.HTTPPort)
	require.Equal(t, "support_desk", cfg.DB.Database)
	require.Equal(t, "support-desk.tickets", cfg.KafkaTopic)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9100")
	t.Setenv("DB_DATABASE", "desk_test")
	t.Setenv("TICKET_RETENTION_DAYS", "30")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9100", cfg.HTTPPort)
	require.Equal(t, "desk_test", cfg.DB.Database)
	require.Equal(t, 30, cfg.RetentionDays)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DB.Host = ""
	require.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.AppEnv = "production"
	cfg.DB.Password = ""
	require.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.RetentionDays = -1
	require.Error(t, cfg.Validate())
}

func TestDatabaseURLEscapesPassword(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.DB.Password = "p@ss/word"
	require.Contains(t, cfg.DatabaseURL(), "p%40ss%2Fword")
}
