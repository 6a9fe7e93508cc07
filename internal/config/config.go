// File: internal/config/config.go
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Supported browser kinds.
const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
)

// Supported Chrome engines.
const (
	EngineCDP = "cdp"
	EngineRod = "rod"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Wait() WaitConfig
	Flow() FlowConfig
	Report() ReportConfig

	// CLI overrides
	SetBrowserHeadless(bool)
	SetBrowserKinds([]string)
	SetFlowBaseURL(string)
	SetReportDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	WaitCfg     WaitConfig     `mapstructure:"wait" yaml:"wait"`
	FlowCfg     FlowConfig     `mapstructure:"flow" yaml:"flow"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Wait() WaitConfig         { return c.WaitCfg }
func (c *Config) Flow() FlowConfig         { return c.FlowCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserKinds(kinds []string) { c.BrowserCfg.Kinds = kinds }
func (c *Config) SetFlowBaseURL(u string)        { c.FlowCfg.BaseURL = u }
func (c *Config) SetReportDir(dir string)        { c.ReportCfg.Dir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the run history connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig describes how sessions are launched. Kind selects the
// variant; only the matching sub-section is consulted.
type BrowserConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Kinds lists the browsers a run covers, one session each.
	Kinds               []string      `mapstructure:"kinds" yaml:"kinds"`
	Headless            bool          `mapstructure:"headless" yaml:"headless"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	WindowWidth         int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight        int           `mapstructure:"window_height" yaml:"window_height"`
	AcceptInsecureCerts bool          `mapstructure:"accept_insecure_certs" yaml:"accept_insecure_certs"`
	Chrome              ChromeConfig  `mapstructure:"chrome" yaml:"chrome"`
	Firefox             FirefoxConfig `mapstructure:"firefox" yaml:"firefox"`
}

// ForKind returns a copy of the config bound to a single browser kind.
func (b BrowserConfig) ForKind(kind string) BrowserConfig {
	b.Kind = strings.ToLower(strings.TrimSpace(kind))
	b.Kinds = []string{b.Kind}
	return b
}

// ChromeConfig holds Chrome specific launch options.
type ChromeConfig struct {
	Engine   string   `mapstructure:"engine" yaml:"engine"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
}

// FirefoxConfig holds Firefox specific launch options.
type FirefoxConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Prefs are "name=value" overrides layered over DefaultFirefoxPrefs.
	// Preference names contain dots, which viper would split into nested
	// keys, so they are kept as plain strings.
	Prefs []string `mapstructure:"prefs" yaml:"prefs"`
}

// DefaultFirefoxPrefs silence notifications and relax HSTS and certificate
// pinning so test environments with intercepting proxies load.
func DefaultFirefoxPrefs() map[string]any {
	return map[string]any{
		"dom.webnotifications.enabled":                false,
		"network.stricttransportsecurity.preloadlist": false,
		"security.cert_pinning.enforcement_level":     0,
		"dom.security.https_only_mode":                false,
		"services.settings.server":                    "",
	}
}

// ResolvedPrefs merges the configured overrides into the defaults. Values
// parse as integer or bool when possible and fall back to strings.
func (f FirefoxConfig) ResolvedPrefs() (map[string]any, error) {
	prefs := DefaultFirefoxPrefs()
	for _, entry := range f.Prefs {
		name, raw, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("browser.firefox.prefs: malformed entry %q, want name=value", entry)
		}
		raw = strings.TrimSpace(raw)
		if n, err := strconv.Atoi(raw); err == nil {
			prefs[name] = n
		} else if b, err := strconv.ParseBool(raw); err == nil {
			prefs[name] = b
		} else {
			prefs[name] = strings.Trim(raw, `"`)
		}
	}
	return prefs, nil
}

// WaitConfig holds the polling defaults for every interaction.
type WaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// FlowConfig holds the career flow's targets and pacing.
type FlowConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	CareersURL    string        `mapstructure:"careers_url" yaml:"careers_url"`
	QACategoryURL string        `mapstructure:"qa_category_url" yaml:"qa_category_url"`
	SiteName      string        `mapstructure:"site_name" yaml:"site_name"`
	Keyword       string        `mapstructure:"keyword" yaml:"keyword"`
	Location      string        `mapstructure:"location" yaml:"location"`
	StableWindow  time.Duration `mapstructure:"stable_window" yaml:"stable_window"`
	// ListSettleDelay is a fixed pause after opening the job list, covering
	// dropdown data that loads without an observable signal.
	ListSettleDelay time.Duration `mapstructure:"list_settle_delay" yaml:"list_settle_delay"`
	FilterPause     time.Duration `mapstructure:"filter_pause" yaml:"filter_pause"`
	HoverPause      time.Duration `mapstructure:"hover_pause" yaml:"hover_pause"`
	SubmenuPause    time.Duration `mapstructure:"submenu_pause" yaml:"submenu_pause"`
	ApplicationHost string        `mapstructure:"application_host" yaml:"application_host"`
}

// ReportConfig controls run artifacts.
type ReportConfig struct {
	Dir         string   `mapstructure:"dir" yaml:"dir"`
	Formats     []string `mapstructure:"formats" yaml:"formats"`
	MetricsFile string   `mapstructure:"metrics_file" yaml:"metrics_file"`
	// RepoPath is inspected for the git revision stamped into reports.
	RepoPath string `mapstructure:"repo_path" yaml:"repo_path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "flowcheck")
	v.SetDefault("logger.log_file", "flowcheck.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.kind", BrowserChrome)
	v.SetDefault("browser.kinds", []string{BrowserChrome})
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.page_load_timeout", "45s")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.accept_insecure_certs", true)
	v.SetDefault("browser.chrome.engine", EngineCDP)
	v.SetDefault("browser.firefox.prefs", []string{})

	// -- Wait --
	v.SetDefault("wait.timeout", "10s")
	v.SetDefault("wait.poll_interval", "250ms")
	v.SetDefault("wait.probe_timeout", "3s")

	// -- Flow --
	v.SetDefault("flow.base_url", "https://useinsider.com/")
	v.SetDefault("flow.careers_url", "https://useinsider.com/careers/")
	v.SetDefault("flow.qa_category_url", "https://useinsider.com/careers/quality-assurance/")
	v.SetDefault("flow.site_name", "Insider")
	v.SetDefault("flow.keyword", "Quality Assurance")
	v.SetDefault("flow.location", "Istanbul, Turkiye")
	v.SetDefault("flow.stable_window", "1s")
	v.SetDefault("flow.list_settle_delay", "4s")
	v.SetDefault("flow.filter_pause", "1s")
	v.SetDefault("flow.hover_pause", "200ms")
	v.SetDefault("flow.submenu_pause", "150ms")
	v.SetDefault("flow.application_host", "lever.co")

	// -- Report --
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.formats", []string{"json", "junit"})
	v.SetDefault("report.metrics_file", "")
	v.SetDefault("report.repo_path", ".")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials usually arrive through the environment.
	_ = v.BindEnv("database.url", "FLOWCHECK_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.ReportCfg.Dir, &c.ReportCfg.MetricsFile, &c.ReportCfg.RepoPath, &c.BrowserCfg.Firefox.Binary, &c.BrowserCfg.Chrome.ExecPath} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if len(c.BrowserCfg.Kinds) == 0 {
		return fmt.Errorf("browser.kinds must list at least one browser")
	}
	for _, k := range c.BrowserCfg.Kinds {
		if err := validateKind(k); err != nil {
			return err
		}
	}
	if err := validateKind(c.BrowserCfg.Kind); err != nil {
		return err
	}
	switch c.BrowserCfg.Chrome.Engine {
	case EngineCDP, EngineRod:
	default:
		return fmt.Errorf("browser.chrome.engine must be %q or %q, got %q", EngineCDP, EngineRod, c.BrowserCfg.Chrome.Engine)
	}
	if _, err := c.BrowserCfg.Firefox.ResolvedPrefs(); err != nil {
		return err
	}
	if c.WaitCfg.Timeout <= 0 {
		return fmt.Errorf("wait.timeout must be positive")
	}
	if c.WaitCfg.PollInterval <= 0 || c.WaitCfg.PollInterval > c.WaitCfg.Timeout {
		return fmt.Errorf("wait.poll_interval must be positive and no longer than wait.timeout")
	}
	if c.FlowCfg.BaseURL == "" {
		return fmt.Errorf("flow.base_url is a required configuration field")
	}
	if c.FlowCfg.StableWindow <= 0 {
		return fmt.Errorf("flow.stable_window must be positive")
	}
	for _, f := range c.ReportCfg.Formats {
		switch f {
		case "json", "junit":
		default:
			return fmt.Errorf("report.formats: unknown format %q", f)
		}
	}
	return nil
}

func validateKind(kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case BrowserChrome, BrowserFirefox:
		return nil
	}
	return fmt.Errorf("browser kind must be %q or %q, got %q", BrowserChrome, BrowserFirefox, kind)
}
