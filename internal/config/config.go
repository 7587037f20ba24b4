package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrPortNotSet is returned when the platform did not supply a PORT.
var ErrPortNotSet = errors.New("PORT is not set")

// venvDirName is the virtual environment directory the deployment
// pipeline creates inside the app dir.
const venvDirName = "antenv"

type Config struct {
	Port        int
	AppDir      string
	GunicornBin string
	AptGetBin   string
	PipBin      string
	StateDBPath string
	MetricsAddr string

	// Application settings, surfaced only for preflight warnings. The
	// server process inherits the full environment either way.
	DatabaseURL  string
	GeminiAPIKey string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	BundleObject   string
	BundleCacheDir string
}

// Load reads the agent configuration from the environment. PORT is the
// only required value; a missing or unusable PORT fails the whole run
// before any external command is touched.
func Load() (*Config, error) {
	cfg := &Config{
		AppDir:      getEnvOrDefault("APP_DIR", "."),
		GunicornBin: getEnvOrDefault("GUNICORN_BIN", "gunicorn"),
		AptGetBin:   getEnvOrDefault("APT_GET_BIN", "apt-get"),
		PipBin:      getEnvOrDefault("PIP_BIN", "pip"),
		StateDBPath: os.Getenv("STATE_DB_PATH"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "app-bundles"),
		BundleObject:   os.Getenv("BUNDLE_OBJECT"),
		BundleCacheDir: getEnvOrDefault("BUNDLE_CACHE_DIR", "/var/tax-agent/cache"),
	}

	port, err := parsePort(os.Getenv("PORT"))
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	return cfg, nil
}

// BundleConfigured reports whether an application bundle should be
// fetched from object storage before startup.
func (c *Config) BundleConfigured() bool {
	return c.MinioEndpoint != "" && c.BundleObject != ""
}

// DetectVenv activates the app's virtual environment when the
// conventional antenv directory exists under the app dir. Default
// binary names resolve through its bin dir, and VIRTUAL_ENV plus a
// prefixed PATH are exported so child processes inherit them. Explicit
// PIP_BIN or GUNICORN_BIN overrides are left untouched. Returns the
// venv dir, or "" when none exists.
func (c *Config) DetectVenv() string {
	dir := filepath.Join(c.AppDir, venvDirName)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return ""
	}
	bin := filepath.Join(dir, "bin")
	if c.PipBin == "pip" {
		c.PipBin = filepath.Join(bin, "pip")
	}
	if c.GunicornBin == "gunicorn" {
		c.GunicornBin = filepath.Join(bin, "gunicorn")
	}
	os.Setenv("VIRTUAL_ENV", dir)
	os.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}

func parsePort(val string) (int, error) {
	if val == "" {
		return 0, ErrPortNotSet
	}
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid PORT %q: %w", val, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("PORT %d out of range", port)
	}
	return port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
