package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetUninitialized verifies that calling Get() before Load() causes a panic.
func TestGetUninitialized(t *testing.T) {
	// Reset the singleton for a clean test environment.
	instance = nil
	once = sync.Once{}

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestLoadAndGet verifies the basic singleton load and get functionality.
func TestLoadAndGet(t *testing.T) {
	// Reset singleton
	instance = nil
	once = sync.Once{}
	loadErr = nil

	yamlConfig := []byte(`
engine:
  retry_attempts: 5
  retry_delay: 90s
archive:
  output_dir: /tmp/captures
proxy:
  direct_regions: ["ru", "by"]
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBuffer(yamlConfig))
	require.NoError(t, err)

	err = Load(v)
	require.NoError(t, err)

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.Engine.RetryAttempts)
	assert.Equal(t, 90*time.Second, cfg.Engine.RetryDelay)
	assert.Equal(t, "/tmp/captures", cfg.Archive.OutputDir)
	assert.Equal(t, []string{"ru", "by"}, cfg.Proxy.DirectRegions)

	// Verify that subsequent calls to Load do not change the instance
	v2 := viper.New()
	v2.SetConfigType("yaml")
	_ = v2.ReadConfig(bytes.NewBuffer([]byte(`engine: {retry_attempts: 1}`)))
	err = Load(v2)
	require.NoError(t, err)

	cfg2 := Get()
	assert.Same(t, cfg, cfg2, "Get() should return the same instance")
	assert.Equal(t, 5, cfg2.Engine.RetryAttempts, "Configuration should not be reloaded")
}

// TestDefaults verifies that an empty config file yields a runnable configuration.
func TestDefaults(t *testing.T) {
	// Reset singleton
	instance = nil
	once = sync.Once{}
	loadErr = nil

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString("")))
	require.NoError(t, Load(v))

	cfg := Get()
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)
	assert.Equal(t, 7*time.Minute, cfg.Engine.RetryDelay)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.HumanGestures)
	assert.Equal(t, 412, cfg.Browser.Viewport.Width)
	assert.Equal(t, 915, cfg.Browser.Viewport.Height)
	assert.InDelta(t, 2.625, cfg.Browser.Viewport.Scale, 0.0001)
	assert.True(t, cfg.Browser.Viewport.Mobile)
	assert.Equal(t, 3*time.Second, cfg.Capture.SettleDelay)
	assert.Equal(t, 30*time.Second, cfg.Capture.LoadTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Capture.IdlePoll)
	assert.Equal(t, 2*time.Second, cfg.Capture.QuietPeriod)
	assert.Equal(t, 10, cfg.Capture.MaxScrollAttempts)
	assert.Equal(t, 6, cfg.Download.Workers)
	assert.Equal(t, 3, cfg.Download.Attempts)
	assert.Equal(t, "websites", cfg.Archive.OutputDir)
	assert.True(t, cfg.Archive.MakeZip)
	assert.False(t, cfg.Archive.RemoveSource)
	assert.Equal(t, []string{"ru"}, cfg.Proxy.DirectRegions)
	assert.Equal(t, "127.0.0.1", cfg.Proxy.ListenHost)
	assert.Equal(t, 2080, cfg.Proxy.BasePort)
	assert.Equal(t, 3, cfg.Workbook.Columns.Link)
	assert.Equal(t, 4, cfg.Workbook.Columns.Title)
	assert.Equal(t, 5, cfg.Workbook.Columns.Region)
	assert.Equal(t, 8, cfg.Workbook.Columns.Image)
	assert.Equal(t, 9, cfg.Workbook.Columns.Description)
	assert.False(t, cfg.Postgres.Enabled)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		return Config{
			Engine:  EngineConfig{RetryAttempts: 3, RetryDelay: 7 * time.Minute},
			Capture: CaptureConfig{MaxScrollAttempts: 10, IdlePoll: 200 * time.Millisecond, QuietPeriod: 2 * time.Second},
			Download: DownloadConfig{
				Workers:  6,
				Attempts: 3,
			},
			Archive: ArchiveConfig{OutputDir: "websites", MakeZip: true},
			Workbook: WorkbookConfig{Columns: ColumnsConfig{
				Link: 3, Title: 4, Region: 5, Image: 8, Description: 9,
			}},
		}
	}

	testCases := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "zero retry attempts",
			mutate:      func(c *Config) { c.Engine.RetryAttempts = 0 },
			expectError: true,
			errorMsg:    "engine.retry_attempts must be a positive integer",
		},
		{
			name:        "negative retry delay",
			mutate:      func(c *Config) { c.Engine.RetryDelay = -time.Second },
			expectError: true,
			errorMsg:    "engine.retry_delay must be a positive duration",
		},
		{
			name:        "zero scroll attempts",
			mutate:      func(c *Config) { c.Capture.MaxScrollAttempts = 0 },
			expectError: true,
			errorMsg:    "capture.max_scroll_attempts must be a positive integer",
		},
		{
			name:        "zero download attempts",
			mutate:      func(c *Config) { c.Download.Attempts = 0 },
			expectError: true,
			errorMsg:    "download.attempts must be a positive integer",
		},
		{
			name:        "missing output dir",
			mutate:      func(c *Config) { c.Archive.OutputDir = "" },
			expectError: true,
			errorMsg:    "archive.output_dir is a required configuration field",
		},
		{
			name: "remove source without zip",
			mutate: func(c *Config) {
				c.Archive.MakeZip = false
				c.Archive.RemoveSource = true
			},
			expectError: true,
			errorMsg:    "archive.remove_source without archive.make_zip would discard the artifact",
		},
		{
			name: "postgres enabled without url",
			mutate: func(c *Config) {
				c.Postgres.Enabled = true
			},
			expectError: true,
			errorMsg:    "postgres.url is required when postgres.enabled is set",
		},
		{
			name:        "zero link column",
			mutate:      func(c *Config) { c.Workbook.Columns.Link = 0 },
			expectError: true,
			errorMsg:    "workbook.columns.link must be a positive 1-based index",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestConfigStructureMapping verifies that the YAML tags correctly map to the struct fields.
func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  format: console
  log_file: /var/log/app.log
browser:
  navigation_timeout: 45s
  viewport:
    width: 390
    height: 844
    scale: 3.0
    mobile: true
capture:
  settle_delay: 1s
  load_timeout: 20s
  max_scroll_attempts: 4
  screenshot: true
  pdf: true
download:
  workers: 8
  request_timeout: 15s
proxy:
  registry_path: /etc/admb/proxies.json
  singbox_path: /usr/local/bin/sing-box
  base_port: 3128
workbook:
  path: input.xlsx
  sheet: Ads
  columns:
    link: 1
    title: 2
network:
  timeout: 5s
  ignore_tls_errors: true
`
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString(yamlInput))
	require.NoError(t, err, "Viper should read the YAML without error")

	var cfg Config
	err = v.Unmarshal(&cfg)
	require.NoError(t, err, "Unmarshaling into Config struct should not produce an error")

	// Assertions to verify correct mapping
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger.LogFile)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 390, cfg.Browser.Viewport.Width)
	assert.Equal(t, 844, cfg.Browser.Viewport.Height)
	assert.InDelta(t, 3.0, cfg.Browser.Viewport.Scale, 0.0001)
	assert.True(t, cfg.Browser.Viewport.Mobile)
	assert.Equal(t, 1*time.Second, cfg.Capture.SettleDelay)
	assert.Equal(t, 20*time.Second, cfg.Capture.LoadTimeout)
	assert.Equal(t, 4, cfg.Capture.MaxScrollAttempts)
	assert.True(t, cfg.Capture.Screenshot)
	assert.True(t, cfg.Capture.PDF)
	assert.Equal(t, 8, cfg.Download.Workers)
	assert.Equal(t, 15*time.Second, cfg.Download.RequestTimeout)
	assert.Equal(t, "/etc/admb/proxies.json", cfg.Proxy.RegistryPath)
	assert.Equal(t, "/usr/local/bin/sing-box", cfg.Proxy.SingboxPath)
	assert.Equal(t, 3128, cfg.Proxy.BasePort)
	assert.Equal(t, "input.xlsx", cfg.Workbook.Path)
	assert.Equal(t, "Ads", cfg.Workbook.Sheet)
	assert.Equal(t, 1, cfg.Workbook.Columns.Link)
	assert.Equal(t, 2, cfg.Workbook.Columns.Title)
	assert.Equal(t, 5*time.Second, cfg.Network.Timeout)
	assert.True(t, cfg.Network.IgnoreTLSErrors)
}

// TestSet ensures that the Set function correctly sets the global instance.
func TestSet(t *testing.T) {
	// Reset singleton
	instance = nil
	once = sync.Once{}

	expectedCfg := &Config{
		Archive: ArchiveConfig{OutputDir: "set-from-test"},
	}

	Set(expectedCfg)

	actualCfg := Get()

	assert.Same(t, expectedCfg, actualCfg, "Get should return the exact instance that was Set")
	assert.Equal(t, "set-from-test", actualCfg.Archive.OutputDir)
}
