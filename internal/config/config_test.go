package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpaudit/pkg/model"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	assert.Equal(t, "http://localhost:9222", c.DevToolsURL())
	assert.Equal(t, 45*time.Second, c.Timeout())
	assert.Equal(t, string(model.TargetIsolated), c.Chrome.Mode)
	assert.Equal(t, string(model.AttributeDrop), c.Crawl.Attribution)
	assert.Equal(t, 30.0, c.Crawl.CertThresholdDays)
	assert.Equal(t, model.DefaultDomains(), c.Domains())
	assert.Equal(t, model.DefaultViolationSettings(), c.Crawl.Violations)
	require.NoError(t, c.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cdpaudit.yaml")
	data := []byte(`
chrome:
  host: chrome.internal
  mode: shared
crawl:
  attribution: previous
  violations:
    - name: longTask
      threshold: 500
sqlite:
  dsn: runs.sqlite3
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chrome.internal", c.Chrome.Host)
	assert.Equal(t, 9222, c.Chrome.Port)
	assert.Equal(t, "shared", c.Chrome.Mode)
	assert.Equal(t, "previous", c.Crawl.Attribution)
	assert.Equal(t, []model.ViolationSetting{{Name: "longTask", Threshold: 500}}, c.Crawl.Violations)
	assert.Equal(t, "runs.sqlite3", c.Sqlite.Dsn)
	assert.Equal(t, "cdpaudit_", c.Sqlite.Prefix)
	require.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chrome: [1, 2"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHROME_HOST", "10.0.0.5")
	t.Setenv("CHROME_PORT", "9333")

	c := NewConfig()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, "http://10.0.0.5:9333", c.DevToolsURL())
	assert.Equal(t, 45, c.Chrome.TimeoutSeconds)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "empty host", mutate: func(c *Config) { c.Chrome.Host = "" }},
		{name: "bad port", mutate: func(c *Config) { c.Chrome.Port = 70000 }},
		{name: "bad mode", mutate: func(c *Config) { c.Chrome.Mode = "tabs" }},
		{name: "zero timeout", mutate: func(c *Config) { c.Chrome.TimeoutSeconds = 0 }},
		{name: "bad attribution", mutate: func(c *Config) { c.Crawl.Attribution = "next" }},
		{name: "bad threshold", mutate: func(c *Config) {
			c.Crawl.Violations = []model.ViolationSetting{{Name: "longTask", Threshold: -5}}
		}},
		{name: "negative cert threshold", mutate: func(c *Config) { c.Crawl.CertThresholdDays = -1 }},
		{name: "repeated domain", mutate: func(c *Config) { c.Crawl.Domains = []string{"Log", "Page", "Log"} }},
		{name: "empty domain", mutate: func(c *Config) { c.Crawl.Domains = []string{""} }},
		{name: "unnamed violation", mutate: func(c *Config) {
			c.Crawl.Violations = []model.ViolationSetting{{Threshold: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestZeroCertThresholdIsValid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cdpaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  certThresholdDays: 0\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, c.Crawl.CertThresholdDays)
	require.NoError(t, c.Validate())
}
