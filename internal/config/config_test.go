// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "flowcheck", cfg.Logger().ServiceName)
	assert.Equal(t, BrowserChrome, cfg.Browser().Kind)
	assert.Equal(t, []string{BrowserChrome}, cfg.Browser().Kinds)
	assert.Equal(t, EngineCDP, cfg.Browser().Chrome.Engine)
	assert.Equal(t, 45*time.Second, cfg.Browser().PageLoadTimeout)
	assert.Equal(t, 1920, cfg.Browser().WindowWidth)
	assert.True(t, cfg.Browser().AcceptInsecureCerts)
	assert.Equal(t, 10*time.Second, cfg.Wait().Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Wait().PollInterval)
	assert.Equal(t, "Quality Assurance", cfg.Flow().Keyword)
	assert.Equal(t, "Istanbul, Turkiye", cfg.Flow().Location)
	assert.Equal(t, time.Second, cfg.Flow().StableWindow)
	assert.Equal(t, 4*time.Second, cfg.Flow().ListSettleDelay)
	assert.Equal(t, []string{"json", "junit"}, cfg.Report().Formats)
	assert.Empty(t, cfg.Database().URL)

	require.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown browser", func(c *Config) { c.BrowserCfg.Kinds = []string{"safari"} }, `browser kind must be "chrome" or "firefox"`},
		{"no browsers", func(c *Config) { c.BrowserCfg.Kinds = nil }, "browser.kinds must list at least one browser"},
		{"unknown engine", func(c *Config) { c.BrowserCfg.Chrome.Engine = "selenium" }, "browser.chrome.engine"},
		{"zero timeout", func(c *Config) { c.WaitCfg.Timeout = 0 }, "wait.timeout must be positive"},
		{"poll longer than timeout", func(c *Config) { c.WaitCfg.PollInterval = time.Minute }, "wait.poll_interval"},
		{"missing base url", func(c *Config) { c.FlowCfg.BaseURL = "" }, "flow.base_url is a required configuration field"},
		{"zero stable window", func(c *Config) { c.FlowCfg.StableWindow = 0 }, "flow.stable_window must be positive"},
		{"unknown report format", func(c *Config) { c.ReportCfg.Formats = []string{"html"} }, `unknown format "html"`},
		{"malformed pref", func(c *Config) { c.BrowserCfg.Firefox.Prefs = []string{"no-equals"} }, "malformed entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("mixed case kinds are accepted", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetBrowserKinds([]string{" Chrome", "FIREFOX"})
		assert.NoError(t, cfg.Validate())
	})
}

func TestBrowserForKind(t *testing.T) {
	base := NewDefaultConfig().Browser()
	base.Kinds = []string{BrowserChrome, BrowserFirefox}

	ff := base.ForKind(" Firefox ")
	assert.Equal(t, BrowserFirefox, ff.Kind)
	assert.Equal(t, []string{BrowserFirefox}, ff.Kinds)
	assert.Equal(t, []string{BrowserChrome, BrowserFirefox}, base.Kinds, "original is untouched")
}

func TestFirefoxResolvedPrefs(t *testing.T) {
	ff := FirefoxConfig{Prefs: []string{
		"dom.webnotifications.enabled=true",
		"security.cert_pinning.enforcement_level = 2",
		`general.useragent.override="flowcheck"`,
	}}

	prefs, err := ff.ResolvedPrefs()
	require.NoError(t, err)
	assert.Equal(t, true, prefs["dom.webnotifications.enabled"])
	assert.Equal(t, 2, prefs["security.cert_pinning.enforcement_level"])
	assert.Equal(t, "flowcheck", prefs["general.useragent.override"])
	assert.Equal(t, false, prefs["dom.security.https_only_mode"], "defaults kept")
	assert.Equal(t, "", prefs["services.settings.server"])
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  kinds: [chrome, firefox]
  headless: true
  chrome:
    engine: rod
  firefox:
    prefs:
      - "dom.webnotifications.enabled=false"
wait:
  timeout: 20s
  poll_interval: 100ms
flow:
  location: "Ankara, Turkiye"
report:
  dir: ~/flowcheck-reports
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, []string{"chrome", "firefox"}, cfg.Browser().Kinds)
		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, EngineRod, cfg.Browser().Chrome.Engine)
		assert.Equal(t, 20*time.Second, cfg.Wait().Timeout)
		assert.Equal(t, 100*time.Millisecond, cfg.Wait().PollInterval)
		assert.Equal(t, "Ankara, Turkiye", cfg.Flow().Location)
		// Defaults still apply to untouched keys.
		assert.Equal(t, "Quality Assurance", cfg.Flow().Keyword)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "flowcheck-reports"), cfg.Report().Dir)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("wait.timeout", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "wait.timeout must be positive")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("FLOWCHECK_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database().URL)
	})
}
