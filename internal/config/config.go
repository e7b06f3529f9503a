package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FetcherConfig struct {
	UserAgent    string `yaml:"userAgent"`
	TimeoutMs    int    `yaml:"timeoutMs"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

type BrowserConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ControlURL string `yaml:"controlURL"`
	TimeoutMs  int    `yaml:"timeoutMs"`
}

type CacheConfig struct {
	RedisURL          string `yaml:"redisURL"`
	DefaultTTLSeconds int    `yaml:"defaultTTLSeconds"`
}

type CrawlConfig struct {
	Concurrency int `yaml:"concurrency"`
	KinLimit    int `yaml:"kinLimit"`
}

// PlatformConfig carries the multi-tenant host allowlist. Entries are
// origins or bare hosts; the set extends without code changes.
type PlatformConfig struct {
	Hosts []string `yaml:"hosts"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Browser  BrowserConfig  `yaml:"browser"`
	Cache    CacheConfig    `yaml:"cache"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Platform PlatformConfig `yaml:"platform"`
	Database DatabaseConfig `yaml:"database"`
}

// defaultPlatformHosts seed the allowlist when the config names none.
var defaultPlatformHosts = []string{
	"github.com",
	"gitlab.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"medium.com",
	"reddit.com",
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values with serving defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Fetcher.TimeoutMs <= 0 {
		c.Fetcher.TimeoutMs = 30000
	}
	if c.Fetcher.UserAgent == "" {
		c.Fetcher.UserAgent = "arbor/1.0 (+https://github.com/arbor)"
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		c.Cache.DefaultTTLSeconds = 86400
	}
	if c.Crawl.Concurrency <= 0 {
		c.Crawl.Concurrency = 5
	}
	if c.Crawl.KinLimit <= 0 {
		c.Crawl.KinLimit = 20
	}
	if len(c.Platform.Hosts) == 0 {
		c.Platform.Hosts = append([]string(nil), defaultPlatformHosts...)
	}
	if c.Browser.TimeoutMs <= 0 {
		c.Browser.TimeoutMs = 30000
	}
}
