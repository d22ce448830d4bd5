package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every server-level option plus the upstream source catalog.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Wiki    WikiConfig    `koanf:"wiki"`
	Search  SearchConfig  `koanf:"search"`
	Feeds   []FeedSource  `koanf:"feeds"`
	Genai   GenaiConfig   `koanf:"genai"`
	Preload PreloadConfig `koanf:"preload"`
}

// ServerConfig collects the bootstrap knobs owned by process startup.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the cache backend and the per-category expiry windows.
type CacheConfig struct {
	Backend    string            `koanf:"backend"`
	DefaultTTL time.Duration     `koanf:"defaultTTL"`
	TTL        CategoryTTLConfig `koanf:"ttl"`
	Valkey     ValkeyConfig      `koanf:"valkey"`
}

// CategoryTTLConfig maps each cache category to its expiry window. A zero
// value means the category inherits the default TTL.
type CategoryTTLConfig struct {
	Summary     time.Duration `koanf:"summary"`
	Feed        time.Duration `koanf:"feed"`
	Search      time.Duration `koanf:"search"`
	Passthrough time.Duration `koanf:"passthrough"`
}

// Durations flattens the per-category windows into the map shape the cache
// constructor consumes. Zero-valued categories are omitted so they fall back
// to the default TTL.
func (c CategoryTTLConfig) Durations() map[string]time.Duration {
	out := make(map[string]time.Duration, 4)
	for category, ttl := range map[string]time.Duration{
		"summary":     c.Summary,
		"feed":        c.Feed,
		"search":      c.Search,
		"passthrough": c.Passthrough,
	} {
		if ttl > 0 {
			out[category] = ttl
		}
	}
	return out
}

// ValkeyConfig carries connection settings for the optional valkey backend.
type ValkeyConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// WikiConfig points the summary adapter at the encyclopedia API.
type WikiConfig struct {
	BaseURL   string `koanf:"baseURL"`
	UserAgent string `koanf:"userAgent"`
}

// SearchConfig points the search adapter at the keyword-search API.
type SearchConfig struct {
	BaseURL    string `koanf:"baseURL"`
	MaxResults int    `koanf:"maxResults"`
}

// FeedSource names one RSS/Atom feed. The list is loaded once at startup and
// is immutable for the process lifetime.
type FeedSource struct {
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

// DisplayName resolves the human-facing label for a feed source.
func (f FeedSource) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	if parsed, err := url.Parse(f.URL); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return f.URL
}

// GenaiConfig carries the fallback chain for the generative-text adapter:
// ordered API keys crossed with ordered model identifiers. Both orders are
// tried deterministically, never shuffled.
type GenaiConfig struct {
	BaseURL   string   `koanf:"baseURL"`
	APIKeys   []string `koanf:"apiKeys"`
	Models    []string `koanf:"models"`
	MaxTokens int      `koanf:"maxTokens"`
}

// Enabled reports whether the generative adapter has at least one usable
// credential/model pair.
func (g GenaiConfig) Enabled() bool {
	return len(g.APIKeys) > 0 && len(g.Models) > 0
}

// PreloadConfig sets the feed warm-up cadence.
type PreloadConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// DefaultConfig seeds the loader with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ListenConfig{Address: "0.0.0.0", Port: 8080},
			Logging: LoggingConfig{Level: "info", Format: "json"},
			Cache: CacheConfig{
				Backend:    "memory",
				DefaultTTL: 10 * time.Minute,
				TTL: CategoryTTLConfig{
					Summary:     30 * time.Minute,
					Feed:        10 * time.Minute,
					Search:      15 * time.Minute,
					Passthrough: 30 * time.Minute,
				},
			},
		},
		Wiki: WikiConfig{
			BaseURL:   "https://en.wikipedia.org/w/api.php",
			UserAgent: "omnifeed/1.0 (content aggregation service)",
		},
		Search: SearchConfig{
			BaseURL:    "https://api.duckduckgo.com/",
			MaxResults: 10,
		},
		Genai: GenaiConfig{
			BaseURL:   "https://generativelanguage.googleapis.com",
			MaxTokens: 1024,
		},
		Preload: PreloadConfig{Interval: 10 * time.Minute},
	}
}

// Validate rejects configurations the runtime cannot act on.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	switch strings.ToLower(c.Server.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log level %q", c.Server.Logging.Level)
	}
	if c.Server.Cache.DefaultTTL < 0 {
		return errors.New("config: default cache TTL must not be negative")
	}
	if strings.TrimSpace(c.Wiki.BaseURL) == "" {
		return errors.New("config: wiki baseURL required")
	}
	if c.Search.MaxResults < 0 {
		return errors.New("config: search maxResults must not be negative")
	}
	for i, feed := range c.Feeds {
		if strings.TrimSpace(feed.URL) == "" {
			return fmt.Errorf("config: feed %d has empty url", i)
		}
		if _, err := url.Parse(feed.URL); err != nil {
			return fmt.Errorf("config: feed %q url: %w", feed.Name, err)
		}
	}
	if c.Preload.Interval < 0 {
		return errors.New("config: preload interval must not be negative")
	}
	return nil
}
