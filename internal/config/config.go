package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProviderConfig is one configured storage provider. Order in the list is
// resolution priority.
type ProviderConfig struct {
	Name   string
	URL    string
	APIKey string
}

// Config holds all application configuration
type Config struct {
	// Catalog
	CatalogURL string
	CatalogKey string

	// Indexers, highest priority first
	IndexerURLs []string

	// Providers, highest priority first
	Providers []ProviderConfig

	// Mount and library roots
	MountPath   string
	MoviesRoot  string
	ShowsRoot   string
	AnimeMovies string
	AnimeShows  string

	// Media server refresh (optional)
	MediaServerURL   string
	MediaServerToken string

	// Pipeline
	Workers         int
	ScanSchedule    string // cron expression for the due-record scan
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	SearchTimeout   time.Duration
	ProviderTimeout time.Duration
	PollInterval    time.Duration

	// Server
	ServerPort string

	// Paths
	DatabaseFile string // $CONFIG_DIR/fetcharr.db

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	viper.SetDefault("WORKERS", 4)
	viper.SetDefault("SCAN_SCHEDULE", "@every 1m")
	viper.SetDefault("MAX_ATTEMPTS", 5)
	viper.SetDefault("INITIAL_BACKOFF_SECONDS", 60)
	viper.SetDefault("MAX_BACKOFF_MINUTES", 360)
	viper.SetDefault("SEARCH_TIMEOUT_SECONDS", 45)
	viper.SetDefault("PROVIDER_TIMEOUT_MINUTES", 10)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 5)
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "fetcharr")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		CatalogURL: viper.GetString("CATALOG_URL"),
		CatalogKey: viper.GetString("CATALOG_KEY"),

		IndexerURLs: splitList(viper.GetString("INDEXER_URLS")),

		MountPath:   viper.GetString("MOUNT_PATH"),
		MoviesRoot:  viper.GetString("MOVIES_ROOT"),
		ShowsRoot:   viper.GetString("SHOWS_ROOT"),
		AnimeMovies: viper.GetString("ANIME_MOVIES_ROOT"),
		AnimeShows:  viper.GetString("ANIME_SHOWS_ROOT"),

		MediaServerURL:   viper.GetString("MEDIA_SERVER_URL"),
		MediaServerToken: viper.GetString("MEDIA_SERVER_TOKEN"),

		Workers:         viper.GetInt("WORKERS"),
		ScanSchedule:    viper.GetString("SCAN_SCHEDULE"),
		MaxAttempts:     viper.GetInt("MAX_ATTEMPTS"),
		InitialBackoff:  time.Duration(viper.GetInt("INITIAL_BACKOFF_SECONDS")) * time.Second,
		MaxBackoff:      time.Duration(viper.GetInt("MAX_BACKOFF_MINUTES")) * time.Minute,
		SearchTimeout:   time.Duration(viper.GetInt("SEARCH_TIMEOUT_SECONDS")) * time.Second,
		ProviderTimeout: time.Duration(viper.GetInt("PROVIDER_TIMEOUT_MINUTES")) * time.Minute,
		PollInterval:    time.Duration(viper.GetInt("POLL_INTERVAL_SECONDS")) * time.Second,

		ServerPort: viper.GetString("SERVER_PORT"),

		DatabaseFile: filepath.Join(configDir, "fetcharr.db"),

		LogLevel: viper.GetString("LOG_LEVEL"),
	}

	// Providers come as PROVIDERS=name1,name2 with per-provider URL and key:
	// <NAME>_URL and <NAME>_API_KEY.
	for _, name := range splitList(viper.GetString("PROVIDERS")) {
		envName := strings.ToUpper(name)
		config.Providers = append(config.Providers, ProviderConfig{
			Name:   name,
			URL:    viper.GetString(envName + "_URL"),
			APIKey: viper.GetString(envName + "_API_KEY"),
		})
	}

	// Anime roots fall back to the regular roots when not split out.
	if config.AnimeMovies == "" {
		config.AnimeMovies = config.MoviesRoot
	}
	if config.AnimeShows == "" {
		config.AnimeShows = config.ShowsRoot
	}

	if config.CatalogURL == "" {
		return nil, fmt.Errorf("CATALOG_URL is required")
	}
	if len(config.IndexerURLs) == 0 {
		return nil, fmt.Errorf("INDEXER_URLS is required")
	}
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("PROVIDERS is required")
	}
	for _, p := range config.Providers {
		if p.URL == "" || p.APIKey == "" {
			return nil, fmt.Errorf("provider %s needs %s_URL and %s_API_KEY", p.Name, strings.ToUpper(p.Name), strings.ToUpper(p.Name))
		}
	}
	if config.MountPath == "" {
		return nil, fmt.Errorf("MOUNT_PATH is required")
	}
	if config.MoviesRoot == "" {
		return nil, fmt.Errorf("MOVIES_ROOT is required")
	}
	if config.ShowsRoot == "" {
		return nil, fmt.Errorf("SHOWS_ROOT is required")
	}

	return config, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
