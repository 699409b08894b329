// The application's root configuration: batch input, browser capture,
// download pipeline, archiving layout, proxy routing, and persistence.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Download DownloadConfig `mapstructure:"download"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Workbook WorkbookConfig `mapstructure:"workbook"`
	Network  NetworkConfig  `mapstructure:"network"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the optional audit database.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// EngineConfig holds settings for the retry scheduler.
type EngineConfig struct {
	// RetryAttempts is the attempt budget granted on the first failure.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryDelay is the fixed backoff applied to every requeue.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ViewportConfig describes the emulated screen.
type ViewportConfig struct {
	Width  int     `mapstructure:"width"`
	Height int     `mapstructure:"height"`
	Scale  float64 `mapstructure:"scale"`
	Mobile bool    `mapstructure:"mobile"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path"`
	Args            []string `mapstructure:"args"`
	UserAgent       string   `mapstructure:"user_agent"`
	// HumanGestures scrolls with synthesized touch swipes instead of
	// window.scrollTo so scroll mechanics cannot give the capture away.
	HumanGestures     bool           `mapstructure:"human_gestures"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout"`
	Viewport          ViewportConfig `mapstructure:"viewport"`
}

// CaptureConfig tunes the full-load detection on a rendered page.
type CaptureConfig struct {
	// SettleDelay is the fixed pause after navigation before scrolling starts.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// LoadTimeout caps the whole scroll-and-idle wait.
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
	// IdlePoll is the polling interval of the network-idle check.
	IdlePoll time.Duration `mapstructure:"idle_poll"`
	// QuietPeriod is how long network activity must stay flat before the
	// page counts as settled.
	QuietPeriod       time.Duration `mapstructure:"quiet_period"`
	MaxScrollAttempts int           `mapstructure:"max_scroll_attempts"`
	// ScrollWait bounds the wait for the page to grow after one scroll step.
	ScrollWait time.Duration `mapstructure:"scroll_wait"`
	Screenshot bool          `mapstructure:"screenshot"`
	PDF        bool          `mapstructure:"pdf"`
}

// DownloadConfig tunes the resource download pool.
type DownloadConfig struct {
	Workers        int           `mapstructure:"workers"`
	Attempts       int           `mapstructure:"attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ArchiveConfig controls the persisted artifact layout.
type ArchiveConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	// StagingDir is where working directories are assembled before the
	// numbered move; empty means the system temp dir.
	StagingDir   string `mapstructure:"staging_dir"`
	MakeZip      bool   `mapstructure:"make_zip"`
	RemoveSource bool   `mapstructure:"remove_source"`
}

// ProxyConfig locates the region registry and the local tunnel runtime.
type ProxyConfig struct {
	RegistryPath string   `mapstructure:"registry_path"`
	DirectRegions []string `mapstructure:"direct_regions"`
	// SingboxPath is the sing-box binary used to terminate authenticated
	// SOCKS upstreams locally; empty disables tunneling and hands the
	// upstream URL to the browser as-is.
	SingboxPath  string        `mapstructure:"singbox_path"`
	ConfigDir    string        `mapstructure:"config_dir"`
	ListenHost   string        `mapstructure:"listen_host"`
	BasePort     int           `mapstructure:"base_port"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// ColumnsConfig maps WorkItem fields to 1-based workbook columns.
type ColumnsConfig struct {
	Link        int `mapstructure:"link"`
	Title       int `mapstructure:"title"`
	Region      int `mapstructure:"region"`
	Image       int `mapstructure:"image"`
	Description int `mapstructure:"description"`
	Processed   int `mapstructure:"processed"`
	Status      int `mapstructure:"status"`
	Context     int `mapstructure:"context"`
	Artifact    int `mapstructure:"artifact"`
	Timestamp   int `mapstructure:"timestamp"`
}

// WorkbookConfig locates the batch input spreadsheet.
type WorkbookConfig struct {
	Path    string        `mapstructure:"path"`
	Sheet   string        `mapstructure:"sheet"`
	Columns ColumnsConfig `mapstructure:"columns"`
}

// NetworkConfig holds settings for plain HTTP requests (probes and asset
// downloads).
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// SetDefaults registers the defaults so the app can run with a minimal
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "admb")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("postgres.enabled", false)

	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.retry_delay", 7*time.Minute)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.human_gestures", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Mobile Safari/537.36")
	v.SetDefault("browser.viewport.width", 412)
	v.SetDefault("browser.viewport.height", 915)
	v.SetDefault("browser.viewport.scale", 2.625)
	v.SetDefault("browser.viewport.mobile", true)

	v.SetDefault("capture.settle_delay", 3*time.Second)
	v.SetDefault("capture.load_timeout", 30*time.Second)
	v.SetDefault("capture.idle_poll", 200*time.Millisecond)
	v.SetDefault("capture.quiet_period", 2*time.Second)
	v.SetDefault("capture.max_scroll_attempts", 10)
	v.SetDefault("capture.scroll_wait", 2*time.Second)
	v.SetDefault("capture.screenshot", false)
	v.SetDefault("capture.pdf", false)

	v.SetDefault("download.workers", 6)
	v.SetDefault("download.attempts", 3)
	v.SetDefault("download.retry_delay", 1*time.Second)
	v.SetDefault("download.request_timeout", 10*time.Second)

	v.SetDefault("archive.output_dir", "websites")
	v.SetDefault("archive.make_zip", true)
	v.SetDefault("archive.remove_source", false)

	v.SetDefault("proxy.registry_path", "proxies.json")
	v.SetDefault("proxy.direct_regions", []string{"ru"})
	v.SetDefault("proxy.listen_host", "127.0.0.1")
	v.SetDefault("proxy.base_port", 2080)
	v.SetDefault("proxy.start_timeout", 10*time.Second)

	v.SetDefault("workbook.path", "ads.xlsx")
	v.SetDefault("workbook.columns.link", 3)
	v.SetDefault("workbook.columns.title", 4)
	v.SetDefault("workbook.columns.region", 5)
	v.SetDefault("workbook.columns.image", 8)
	v.SetDefault("workbook.columns.description", 9)
	v.SetDefault("workbook.columns.processed", 10)
	v.SetDefault("workbook.columns.status", 11)
	v.SetDefault("workbook.columns.context", 12)
	v.SetDefault("workbook.columns.artifact", 13)
	v.SetDefault("workbook.columns.timestamp", 14)

	v.SetDefault("network.timeout", 30*time.Second)
	v.SetDefault("network.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
}

// Validate checks the invariants the rest of the application relies on.
func (c *Config) Validate() error {
	if c.Engine.RetryAttempts < 1 {
		return fmt.Errorf("engine.retry_attempts must be a positive integer")
	}
	if c.Engine.RetryDelay <= 0 {
		return fmt.Errorf("engine.retry_delay must be a positive duration")
	}
	if c.Capture.MaxScrollAttempts < 1 {
		return fmt.Errorf("capture.max_scroll_attempts must be a positive integer")
	}
	if c.Capture.IdlePoll <= 0 || c.Capture.QuietPeriod <= 0 {
		return fmt.Errorf("capture.idle_poll and capture.quiet_period must be positive durations")
	}
	if c.Download.Attempts < 1 {
		return fmt.Errorf("download.attempts must be a positive integer")
	}
	if c.Archive.OutputDir == "" {
		return fmt.Errorf("archive.output_dir is a required configuration field")
	}
	if c.Archive.RemoveSource && !c.Archive.MakeZip {
		return fmt.Errorf("archive.remove_source without archive.make_zip would discard the artifact")
	}
	if c.Postgres.Enabled && c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required when postgres.enabled is set")
	}
	cols := c.Workbook.Columns
	for name, idx := range map[string]int{
		"link":        cols.Link,
		"title":       cols.Title,
		"region":      cols.Region,
		"image":       cols.Image,
		"description": cols.Description,
		"processed":   cols.Processed,
		"status":      cols.Status,
		"context":     cols.Context,
		"artifact":    cols.Artifact,
		"timestamp":   cols.Timestamp,
	} {
		if idx < 1 {
			return fmt.Errorf("workbook.columns.%s must be a positive 1-based index", name)
		}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Set replaces the global instance. Intended for the root command after
// validation, and for tests.
func Set(cfg *Config) {
	instance = cfg
}
