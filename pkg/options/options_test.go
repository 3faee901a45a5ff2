package options

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	opts, err := Load([]string{"--env-file", ""})
	assert.Equal(t, err, nil)
	assert.Equal(t, opts.Listen, ":6040")
	assert.Equal(t, opts.SettingsBackend, BackendFile)
	assert.Equal(t, opts.DetectInterval, 2*time.Second)
	assert.Equal(t, opts.SkipRootCheck, false)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "manager.yaml")
	err := os.WriteFile(cfg, []byte(strings.Join([]string{
		"listen: \":7000\"",
		"token: from-yaml",
		"firmware_dir: /opt/firmware",
		"detect_interval: 5s",
	}, "\n")), 0o644)
	assert.Equal(t, err, nil)

	t.Setenv(EnvPrefix+"TOKEN", "from-env")
	t.Setenv(EnvPrefix+"SKIP_ROOT_CHECK", "true")

	opts, err := Load([]string{"--config", cfg, "--env-file", "", "--listen", ":8000"})
	assert.Equal(t, err, nil)
	assert.Equal(t, opts.Listen, ":8000")
	assert.Equal(t, opts.Token, "from-env")
	assert.Equal(t, opts.FirmwareDir, "/opt/firmware")
	assert.Equal(t, opts.DetectInterval, 5*time.Second)
	assert.Equal(t, opts.SkipRootCheck, true)
}

func TestLoadDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	assert.Equal(t, os.WriteFile(envFile, []byte("MANAGER_CONSUL_KEY=fleet/settings\n"), 0o644), nil)
	t.Cleanup(func() { _ = os.Unsetenv(EnvPrefix + "CONSUL_KEY") })

	opts, err := Load([]string{"--env-file", envFile, "--settings-backend", BackendConsul})
	assert.Equal(t, err, nil)
	assert.Equal(t, opts.ConsulKey, "fleet/settings")
	assert.Equal(t, opts.SettingsBackend, BackendConsul)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "manager.yaml")
	assert.Equal(t, os.WriteFile(cfg, []byte("listne: \":7000\"\n"), 0o644), nil)
	_, err := Load([]string{"--config", cfg, "--env-file", ""})
	assert.NotEqual(t, err, nil)

	_, err = Load([]string{"--env-file", "", "--settings-backend", "etcd"})
	assert.NotEqual(t, err, nil)

	_, err = Load([]string{"--env-file", "", "--tls-cert", "/tmp/cert.pem"})
	assert.NotEqual(t, err, nil)

	t.Setenv(EnvPrefix+"DETECT_INTERVAL", "soon")
	_, err = Load([]string{"--env-file", ""})
	assert.NotEqual(t, err, nil)
}
