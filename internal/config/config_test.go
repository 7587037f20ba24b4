package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "APP_DIR", "GUNICORN_BIN", "APT_GET_BIN", "PIP_BIN",
		"STATE_DB_PATH", "METRICS_ADDR", "DATABASE_URL", "GEMINI_API_KEY",
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
		"MINIO_BUCKET", "BUNDLE_OBJECT", "BUNDLE_CACHE_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("should fail when PORT is not set", func(t *testing.T) {
		clearEnv(t)
		_, err := config.Load()
		require.ErrorIs(t, err, config.ErrPortNotSet)
	})

	t.Run("should fail when PORT is not numeric", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "eight-thousand")
		_, err := config.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PORT")
	})

	t.Run("should fail when PORT is out of range", func(t *testing.T) {
		clearEnv(t)
		for _, val := range []string{"0", "-1", "70000"} {
			t.Setenv("PORT", val)
			_, err := config.Load()
			require.Error(t, err, "PORT=%s", val)
		}
	})

	t.Run("should apply defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "8080")
		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, ".", cfg.AppDir)
		assert.Equal(t, "gunicorn", cfg.GunicornBin)
		assert.Equal(t, "apt-get", cfg.AptGetBin)
		assert.Equal(t, "pip", cfg.PipBin)
		assert.Equal(t, "app-bundles", cfg.MinioBucket)
		assert.Equal(t, "/var/tax-agent/cache", cfg.BundleCacheDir)
		assert.Empty(t, cfg.StateDBPath)
		assert.Empty(t, cfg.MetricsAddr)
	})

	t.Run("should read overrides and pass-through settings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "9001")
		t.Setenv("APP_DIR", "/home/site/wwwroot")
		t.Setenv("GUNICORN_BIN", "/usr/local/bin/gunicorn")
		t.Setenv("DATABASE_URL", "postgres://tax:tax@db/tax")
		t.Setenv("GEMINI_API_KEY", "key-123")
		t.Setenv("STATE_DB_PATH", "/home/data/agent.db")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 9001, cfg.Port)
		assert.Equal(t, "/home/site/wwwroot", cfg.AppDir)
		assert.Equal(t, "/usr/local/bin/gunicorn", cfg.GunicornBin)
		assert.Equal(t, "postgres://tax:tax@db/tax", cfg.DatabaseURL)
		assert.Equal(t, "key-123", cfg.GeminiAPIKey)
		assert.Equal(t, "/home/data/agent.db", cfg.StateDBPath)
	})
}

func TestBundleConfigured(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		object   string
		want     bool
	}{
		{name: "should be off with nothing set", endpoint: "", object: "", want: false},
		{name: "should be off without an object", endpoint: "minio:9000", object: "", want: false},
		{name: "should be off without an endpoint", endpoint: "", object: "release.zip", want: false},
		{name: "should be on with both set", endpoint: "minio:9000", object: "release.zip", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PORT", "8080")
			t.Setenv("MINIO_ENDPOINT", tt.endpoint)
			t.Setenv("BUNDLE_OBJECT", tt.object)

			cfg, err := config.Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.BundleConfigured())
		})
	}
}

func TestDetectVenv(t *testing.T) {
	t.Run("should report no venv when the directory is missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "8080")
		t.Setenv("APP_DIR", t.TempDir())

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Empty(t, cfg.DetectVenv())
		assert.Equal(t, "pip", cfg.PipBin)
		assert.Equal(t, "gunicorn", cfg.GunicornBin)
	})

	t.Run("should resolve default binaries through the venv", func(t *testing.T) {
		clearEnv(t)
		appDir := t.TempDir()
		venvBin := filepath.Join(appDir, "antenv", "bin")
		require.NoError(t, os.MkdirAll(venvBin, 0o755))
		t.Setenv("PORT", "8080")
		t.Setenv("APP_DIR", appDir)
		t.Setenv("VIRTUAL_ENV", "")
		t.Setenv("PATH", "/usr/bin")

		cfg, err := config.Load()
		require.NoError(t, err)

		venv := cfg.DetectVenv()
		require.Equal(t, filepath.Join(appDir, "antenv"), venv)
		assert.Equal(t, filepath.Join(venvBin, "pip"), cfg.PipBin)
		assert.Equal(t, filepath.Join(venvBin, "gunicorn"), cfg.GunicornBin)
		assert.Equal(t, venv, os.Getenv("VIRTUAL_ENV"))
		assert.Equal(t, venvBin+string(os.PathListSeparator)+"/usr/bin", os.Getenv("PATH"))
	})

	t.Run("should keep explicit binary overrides", func(t *testing.T) {
		clearEnv(t)
		appDir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(appDir, "antenv", "bin"), 0o755))
		t.Setenv("PORT", "8080")
		t.Setenv("APP_DIR", appDir)
		t.Setenv("VIRTUAL_ENV", "")
		t.Setenv("PATH", "/usr/bin")
		t.Setenv("PIP_BIN", "/opt/python/bin/pip")
		t.Setenv("GUNICORN_BIN", "/opt/python/bin/gunicorn")

		cfg, err := config.Load()
		require.NoError(t, err)

		require.NotEmpty(t, cfg.DetectVenv())
		assert.Equal(t, "/opt/python/bin/pip", cfg.PipBin)
		assert.Equal(t, "/opt/python/bin/gunicorn", cfg.GunicornBin)
	})
}
