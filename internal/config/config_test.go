package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	t.Run("loads default values when file does not exist", func(t *testing.T) {
		os.Clearenv()

		cfg, err := Load(filepath.Join(tmpDir, "missing.toml"))

		require.NoError(t, err)
		assert.Equal(t, 15, cfg.Settings.ConnectTimeoutSecs)
		assert.Equal(t, "strict", cfg.Settings.HostKeyPolicy)
		assert.Equal(t, "~~", cfg.Settings.SnippetTrigger)
		assert.Equal(t, 5, cfg.Settings.ExecConcurrency)
		assert.Contains(t, cfg.Settings.EnvColors, "production")
	})

	t.Run("loads values from TOML file", func(t *testing.T) {
		os.Clearenv()

		tomlContent := `
[settings]
default_user = "deploy"
connect_timeout_secs = 30
host_key_policy = "accept-new"

[[hosts]]
name = "web1"
host = "web1.example.com"
user = "root"
port = 2222
env = "production"

[[hosts]]
name = "db1"
host = "10.0.0.5"
`
		err := os.WriteFile(configPath, []byte(tomlContent), 0644)
		require.NoError(t, err)

		cfg, err := Load(configPath)

		require.NoError(t, err)
		assert.Equal(t, "deploy", cfg.Settings.DefaultUser)
		assert.Equal(t, 30, cfg.Settings.ConnectTimeoutSecs)
		assert.Equal(t, "accept-new", cfg.Settings.HostKeyPolicy)
		require.Len(t, cfg.Hosts, 2)
		assert.Equal(t, "web1", cfg.Hosts[0].Name)
		assert.Equal(t, 2222, cfg.Hosts[0].Port)
		assert.Equal(t, "production", cfg.Hosts[0].Env)
		assert.Equal(t, "db1", cfg.Hosts[1].Name)
	})

	t.Run("environment variables override file values", func(t *testing.T) {
		os.Clearenv()

		tomlContent := `
[settings]
default_user = "deploy"
connect_timeout_secs = 30
`
		err := os.WriteFile(configPath, []byte(tomlContent), 0644)
		require.NoError(t, err)

		os.Setenv("SSHORE_DEFAULT_USER", "ops")
		os.Setenv("SSHORE_CONNECT_TIMEOUT", "5")

		cfg, err := Load(configPath)

		require.NoError(t, err)
		// Env user (ops) must win over file user (deploy).
		assert.Equal(t, "ops", cfg.Settings.DefaultUser)
		assert.Equal(t, 5, cfg.Settings.ConnectTimeoutSecs)
	})

	t.Run("returns error on invalid TOML", func(t *testing.T) {
		os.Clearenv()

		err := os.WriteFile(configPath, []byte("[settings\ndefault_user ="), 0644)
		require.NoError(t, err)

		_, err = Load(configPath)
		assert.Error(t, err)
	})
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	t.Run("round-trips through Load", func(t *testing.T) {
		os.Clearenv()

		cfg := &Config{
			Settings: Settings{DefaultUser: "deploy", ConnectTimeoutSecs: 20},
			Hosts: []HostRecord{
				{Name: "web1", Host: "web1.example.com", Port: 2222},
			},
		}

		require.NoError(t, Save(cfg, configPath))

		loaded, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "deploy", loaded.Settings.DefaultUser)
		assert.Equal(t, 20, loaded.Settings.ConnectTimeoutSecs)
		require.Len(t, loaded.Hosts, 1)
		assert.Equal(t, "web1", loaded.Hosts[0].Name)
	})

	t.Run("writes file with 0600 permissions", func(t *testing.T) {
		require.NoError(t, Save(&Config{}, configPath))

		info, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		nested := filepath.Join(tmpDir, "a", "b", "config.toml")
		require.NoError(t, Save(&Config{}, nested))
		_, err := os.Stat(nested)
		assert.NoError(t, err)
	})
}
