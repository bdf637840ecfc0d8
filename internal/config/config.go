package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App                       `mapstructure:"app"`
	Sync       Sync                      `mapstructure:"sync"`
	Downloader Downloader                `mapstructure:"downloader"`
	HTTP       HTTP                      `mapstructure:"http"`
	Szurubooru Szurubooru                `mapstructure:"szurubooru"`
	History    History                   `mapstructure:"history"`
	Logging    Logging                   `mapstructure:"logging"`
	Plugins    map[string]map[string]any `mapstructure:"plugins"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	TempDir string `mapstructure:"temp_dir"`
	RootDir string `mapstructure:"root_dir"`
}

// Sync holds the ingestion pipeline options
type Sync struct {
	Destination       string   `mapstructure:"destination"`
	BlacklistedTags   []string `mapstructure:"blacklisted_tags"`
	RequiredTags      []string `mapstructure:"required_tags"`
	AllowedSafety     []string `mapstructure:"allowed_safety"`
	MinimumScore      int      `mapstructure:"minimum_score"`
	AllowedBlankPages int      `mapstructure:"allowed_blank_pages"`
	DownloadPageSize  int      `mapstructure:"download_page_size"`
}

// Downloader holds external downloader tool configuration
type Downloader struct {
	Tool              string   `mapstructure:"tool"`
	IgnoredExtensions []string `mapstructure:"ignored_extensions"`
}

// HTTP holds shared session configuration
type HTTP struct {
	LimitPerHost int    `mapstructure:"limit_per_host"`
	CookiesFile  string `mapstructure:"cookies_file"`
	Timeout      string `mapstructure:"timeout"`
}

// Szurubooru holds the canonical destination adapter configuration
type Szurubooru struct {
	URLBase                string  `mapstructure:"url_base"`
	Username               string  `mapstructure:"username"`
	Password               string  `mapstructure:"password"`
	ImageDistanceThreshold float64 `mapstructure:"image_distance_threshold"`
	RateLimitPerMinute     int     `mapstructure:"rate_limit_per_minute"`
	ForceSourceCheck       bool    `mapstructure:"force_source_check"`
	CreateEmptyTags        bool    `mapstructure:"create_empty_tags"`
	TagNameCap             int     `mapstructure:"tag_name_cap"`
}

// History holds the local run-history database configuration
type History struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// Logging holds logging configuration
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".boorusync")
		viper.SetConfigType("yaml")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	bindEnvironmentVariables()

	// Enable automatic environment variable reading
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply post-processing
	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.temp_dir", "./tmp")
	viper.SetDefault("app.root_dir", ".")

	// Sync defaults
	viper.SetDefault("sync.destination", "szurubooru")
	viper.SetDefault("sync.blacklisted_tags", []string{})
	viper.SetDefault("sync.required_tags", []string{})
	viper.SetDefault("sync.allowed_safety", []string{"safe", "sketchy", "unsafe"})
	viper.SetDefault("sync.minimum_score", 10)
	viper.SetDefault("sync.allowed_blank_pages", 1)
	viper.SetDefault("sync.download_page_size", 50)

	// Downloader defaults
	viper.SetDefault("downloader.tool", "gallery-dl")
	viper.SetDefault("downloader.ignored_extensions", []string{})

	// HTTP defaults
	viper.SetDefault("http.limit_per_host", 5)
	viper.SetDefault("http.cookies_file", "cookies.txt")
	viper.SetDefault("http.timeout", "30s")

	// Szurubooru defaults
	viper.SetDefault("szurubooru.url_base", "http://localhost:8080")
	viper.SetDefault("szurubooru.image_distance_threshold", 0.15)
	viper.SetDefault("szurubooru.rate_limit_per_minute", 100)
	viper.SetDefault("szurubooru.force_source_check", false)
	viper.SetDefault("szurubooru.create_empty_tags", false)
	viper.SetDefault("szurubooru.tag_name_cap", 189)

	// History defaults
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.directory", ".boorusync")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	// Temp and root folders - support the bare legacy names
	bindEnvKeys("app.temp_dir", []string{
		"BOORUSYNC_TEMP_FOLDER",
		"TEMP_FOLDER",
	})

	bindEnvKeys("app.root_dir", []string{
		"BOORUSYNC_ROOT_FOLDER",
		"ROOT_FOLDER",
	})

	// Destination credentials
	bindEnvKeys("szurubooru.url_base", []string{
		"SZURUBOORU_URL",
		"SZURU_URL",
	})

	bindEnvKeys("szurubooru.username", []string{
		"SZURUBOORU_USERNAME",
		"SZURU_USERNAME",
	})

	bindEnvKeys("szurubooru.password", []string{
		"SZURUBOORU_PASSWORD",
		"SZURUBOORU_TOKEN",
		"SZURU_TOKEN",
	})

	// Session
	bindEnvKeys("http.cookies_file", []string{
		"BOORUSYNC_COOKIES",
		"COOKIES_FILE",
	})

	// General settings
	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"BOORUSYNC_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	// Expand paths
	if config.App.TempDir != "" {
		config.App.TempDir = expandPath(config.App.TempDir)
	}
	if config.App.RootDir != "" {
		config.App.RootDir = expandPath(config.App.RootDir)
	}
	if config.HTTP.CookiesFile != "" {
		config.HTTP.CookiesFile = expandPath(config.HTTP.CookiesFile)
	}
	if config.History.Directory != "" {
		config.History.Directory = expandPath(config.History.Directory)
	}

	// Normalize safety names
	for i, safety := range config.Sync.AllowedSafety {
		config.Sync.AllowedSafety[i] = strings.ToLower(strings.TrimSpace(safety))
	}

	// Validate durations
	durations := map[string]string{
		"http.timeout": config.HTTP.Timeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.Sync.Destination == "" {
		errors = append(errors, "sync.destination must name a destination adapter")
	}

	for _, safety := range config.Sync.AllowedSafety {
		switch safety {
		case "safe", "sketchy", "unsafe":
		default:
			errors = append(errors, fmt.Sprintf("Unknown safety value: %s. Supported: safe, sketchy, unsafe", safety))
		}
	}

	if config.Sync.MinimumScore < 0 {
		errors = append(errors, "sync.minimum_score must not be negative")
	}
	if config.Sync.AllowedBlankPages < 0 {
		errors = append(errors, "sync.allowed_blank_pages must not be negative")
	}
	if config.Sync.DownloadPageSize <= 0 {
		errors = append(errors, "sync.download_page_size must be positive")
	}
	if config.HTTP.LimitPerHost <= 0 {
		errors = append(errors, "http.limit_per_host must be positive")
	}
	if config.Szurubooru.ImageDistanceThreshold <= 0 || config.Szurubooru.ImageDistanceThreshold > 1 {
		errors = append(errors, "szurubooru.image_distance_threshold must be in (0, 1]")
	}
	if config.Szurubooru.RateLimitPerMinute <= 0 {
		errors = append(errors, "szurubooru.rate_limit_per_minute must be positive")
	}
	if config.Szurubooru.TagNameCap <= 0 {
		errors = append(errors, "szurubooru.tag_name_cap must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// PluginConfig returns the override block for the named plugin, never nil.
func (c *Config) PluginConfig(name string) map[string]any {
	if c.Plugins == nil {
		return map[string]any{}
	}
	block, ok := c.Plugins[name]
	if !ok {
		return map[string]any{}
	}
	return block
}

// PluginBlocks returns the per-plugin option blocks the registry feeds
// into Configure. The typed szurubooru section and the app root dir are
// folded into the szurubooru block; explicit plugins entries and CLI
// overrides win over the typed section.
func (c *Config) PluginBlocks() map[string]map[string]any {
	blocks := map[string]map[string]any{}
	for name, block := range c.Plugins {
		copied := map[string]any{}
		for key, value := range block {
			copied[key] = value
		}
		blocks[name] = copied
	}

	szuru, ok := blocks["szurubooru"]
	if !ok {
		szuru = map[string]any{}
		blocks["szurubooru"] = szuru
	}
	defaults := map[string]any{}
	if c.Szurubooru.URLBase != "" {
		defaults["url_base"] = c.Szurubooru.URLBase
	}
	if c.Szurubooru.Username != "" {
		defaults["username"] = c.Szurubooru.Username
	}
	if c.Szurubooru.Password != "" {
		defaults["password"] = c.Szurubooru.Password
	}
	if c.Szurubooru.ImageDistanceThreshold != 0 {
		defaults["image_distance_threshold"] = c.Szurubooru.ImageDistanceThreshold
	}
	if c.Szurubooru.RateLimitPerMinute != 0 {
		defaults["rate_limit_per_minute"] = c.Szurubooru.RateLimitPerMinute
	}
	if c.Szurubooru.TagNameCap != 0 {
		defaults["tag_name_cap"] = c.Szurubooru.TagNameCap
	}
	if c.Szurubooru.ForceSourceCheck {
		defaults["force_source_check"] = true
	}
	if c.Szurubooru.CreateEmptyTags {
		defaults["create_empty_tags"] = true
	}
	if c.App.RootDir != "" {
		defaults["root_dir"] = c.App.RootDir
	}
	for key, value := range defaults {
		if _, ok := szuru[key]; !ok {
			szuru[key] = value
		}
	}

	return blocks
}

// ApplyOverride parses a "plugin:key=value,key=value" override string and
// folds it into the per-plugin override blocks.
func (c *Config) ApplyOverride(spec string) error {
	name, rest, found := strings.Cut(spec, ":")
	if !found || name == "" {
		return fmt.Errorf("invalid plugin override %q, expected plugin:key=value", spec)
	}

	if c.Plugins == nil {
		c.Plugins = map[string]map[string]any{}
	}
	block, ok := c.Plugins[name]
	if !ok {
		block = map[string]any{}
		c.Plugins[name] = block
	}

	for _, pair := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || key == "" {
			return fmt.Errorf("invalid plugin override pair %q in %q", pair, spec)
		}
		block[key] = value
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App               { return Get().App }
func GetSync() Sync             { return Get().Sync }
func GetDownloader() Downloader { return Get().Downloader }
func GetHTTP() HTTP             { return Get().HTTP }
func GetSzurubooru() Szurubooru { return Get().Szurubooru }
func GetHistory() History       { return Get().History }
func GetLogging() Logging       { return Get().Logging }

// Specific convenience getters for frequently accessed values
func GetTempDir() string     { return Get().App.TempDir }
func GetDestination() string { return Get().Sync.Destination }
func IsDebugMode() bool      { return Get().App.Debug }

// HTTPTimeout returns the parsed session timeout, falling back to 30s.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTP.Timeout == "" {
		return 30 * time.Second
	}
	timeout, err := time.ParseDuration(c.HTTP.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return timeout
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
