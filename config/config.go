package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"propwatch/models"
)

type Config struct {
	DBPath      string
	CacheDBPath string
	CacheTTL    time.Duration
	PostgresURL string
	ProxyURL    string
	LogPath     string
	Cron        string
	Workers     int
	Translate   TranslateConfig
	Sites       map[string]*SiteConfig
	Search      SearchConfig
}

type TranslateConfig struct {
	Endpoint string
	APIKey   string
	From     string
	To       string
}

// Enabled reports whether a translation endpoint is configured at all.
func (t *TranslateConfig) Enabled() bool {
	return t.Endpoint != ""
}

// SiteConfig describes one source portal. Loaded from config/sites/*.yaml.
type SiteConfig struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	SearchURL   string          `yaml:"search_url"` // template, {town} and {region} substituted
	RateLimitMS int             `yaml:"rate_limit_ms"`
	FetchDetail bool            `yaml:"fetch_detail"` // follow listing links for full descriptions
	Towns       map[string]Town `yaml:"towns"`
}

type Town struct {
	Slug   string `yaml:"slug"`
	Region string `yaml:"region"`
}

// SearchConfig is the externally supplied search definition: acceptance
// criteria plus the source/town matrix for a run. Loaded from a YAML file
// (criteria.yaml by default).
type SearchConfig struct {
	Criteria        models.Criteria `yaml:"criteria"`
	TargetSources   []string        `yaml:"target_sources"`
	TargetLocations []string        `yaml:"target_locations"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:      getEnv("DB_PATH", "propwatch.db"),
		CacheDBPath: getEnv("CACHE_DB_PATH", "fetch_cache.db"),
		CacheTTL:    getEnvDuration("CACHE_TTL", time.Hour),
		PostgresURL: os.Getenv("POSTGRES_URL"),
		ProxyURL:    os.Getenv("PROXY_URL"),
		LogPath:     getEnv("LOG_PATH", "propwatch.log"),
		Cron:        os.Getenv("SEARCH_CRON"),
		Workers:     getEnvInt("FETCH_WORKERS", 2),
		Translate: TranslateConfig{
			Endpoint: os.Getenv("TRANSLATE_ENDPOINT"),
			APIKey:   os.Getenv("TRANSLATE_API_KEY"),
			From:     getEnv("TRANSLATE_FROM", "it"),
			To:       getEnv("TRANSLATE_TO", "en"),
		},
		Sites: make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(getEnv("SITES_DIR", "config/sites")); err != nil {
		return nil, err
	}

	searchPath := getEnv("SEARCH_CONFIG", "config/criteria.yaml")
	search, err := LoadSearchConfig(searchPath)
	if err != nil {
		return nil, err
	}
	cfg.Search = *search

	return cfg, nil
}

func (c *Config) loadSiteConfigs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("site config %s: %w", entry.Name(), err)
		}
		if site.ID == "" {
			return fmt.Errorf("site config %s: missing id", entry.Name())
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// LoadSearchConfig reads criteria and target matrix from a YAML file.
// A missing file yields permissive defaults.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	search := &SearchConfig{
		Criteria: models.Criteria{AllowUnknownCondition: true},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return search, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, search); err != nil {
		return nil, fmt.Errorf("search config %s: %w", path, err)
	}
	return search, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
