package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	t.Run("parses bare host", func(t *testing.T) {
		rec, err := ParseTarget("web1.example.com")
		require.NoError(t, err)
		assert.Equal(t, "web1.example.com", rec.Host)
		assert.Equal(t, "", rec.User)
		assert.Equal(t, 22, rec.EffectivePort())
	})

	t.Run("parses user@host", func(t *testing.T) {
		rec, err := ParseTarget("root@web1.example.com")
		require.NoError(t, err)
		assert.Equal(t, "root", rec.User)
		assert.Equal(t, "web1.example.com", rec.Host)
	})

	t.Run("parses user@host:port", func(t *testing.T) {
		rec, err := ParseTarget("deploy@10.0.0.5:2222")
		require.NoError(t, err)
		assert.Equal(t, "deploy", rec.User)
		assert.Equal(t, "10.0.0.5", rec.Host)
		assert.Equal(t, 2222, rec.Port)
	})

	t.Run("rejects bad port", func(t *testing.T) {
		_, err := ParseTarget("web1:notaport")
		assert.Error(t, err)

		_, err = ParseTarget("web1:99999")
		assert.Error(t, err)
	})

	t.Run("rejects empty host and empty user", func(t *testing.T) {
		_, err := ParseTarget("root@")
		assert.Error(t, err)

		_, err = ParseTarget("@web1")
		assert.Error(t, err)
	})
}

func TestResolveTarget(t *testing.T) {
	cfg := &Config{
		Hosts: []HostRecord{
			{Name: "web1", Host: "web1.internal", User: "deploy", Port: 2200},
		},
	}

	t.Run("saved name wins over ad-hoc parsing", func(t *testing.T) {
		rec, err := cfg.ResolveTarget("web1")
		require.NoError(t, err)
		assert.Equal(t, "web1.internal", rec.Host)
		assert.Equal(t, 2200, rec.Port)
	})

	t.Run("unknown name falls back to connection string", func(t *testing.T) {
		rec, err := cfg.ResolveTarget("admin@other.example.com:2022")
		require.NoError(t, err)
		assert.Equal(t, "other.example.com", rec.Host)
		assert.Equal(t, "admin", rec.User)
		assert.Equal(t, 2022, rec.Port)
	})
}

func TestEffectiveUser(t *testing.T) {
	t.Run("record user wins", func(t *testing.T) {
		rec := &HostRecord{User: "root"}
		assert.Equal(t, "root", rec.EffectiveUser("deploy"))
	})

	t.Run("default user when record has none", func(t *testing.T) {
		rec := &HostRecord{}
		assert.Equal(t, "deploy", rec.EffectiveUser("deploy"))
	})

	t.Run("falls back to OS user", func(t *testing.T) {
		rec := &HostRecord{}
		assert.NotEqual(t, "", rec.EffectiveUser(""))
	})
}

func TestDetectEnv(t *testing.T) {
	t.Run("explicit env field wins", func(t *testing.T) {
		rec := &HostRecord{Name: "dev-box", Env: "Production"}
		assert.Equal(t, EnvProduction, DetectEnv(rec))
	})

	t.Run("detects from name tokens", func(t *testing.T) {
		assert.Equal(t, EnvProduction, DetectEnv(&HostRecord{Name: "web-prod-1"}))
		assert.Equal(t, EnvStaging, DetectEnv(&HostRecord{Name: "api.stage.example.com"}))
		assert.Equal(t, EnvDevelopment, DetectEnv(&HostRecord{Name: "dev_db"}))
		assert.Equal(t, EnvLocal, DetectEnv(&HostRecord{Host: "localhost"}))
	})

	t.Run("matches only on word boundaries", func(t *testing.T) {
		// "reproduction" contains "prod" but not as a token.
		assert.Equal(t, "", DetectEnv(&HostRecord{Name: "reproduction"}))
		assert.Equal(t, "", DetectEnv(&HostRecord{Name: "vendevice"}))
	})

	t.Run("production outranks other tiers", func(t *testing.T) {
		rec := &HostRecord{Name: "prod-test-1"}
		assert.Equal(t, EnvProduction, DetectEnv(rec))
	})

	t.Run("detects from tags", func(t *testing.T) {
		rec := &HostRecord{Name: "box7", Tags: []string{"qa"}}
		assert.Equal(t, EnvTesting, DetectEnv(rec))
	})
}
