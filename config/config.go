// Package config loads and validates service configuration. The engine
// components never read files or environment themselves; everything they
// need arrives through the Config object built here.
package config

import (
	"fmt"
	"strings"
	"time"

	"tripwire/core"
	"tripwire/feed"
	"tripwire/match"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FeedSource is one configured feed entry.
type FeedSource struct {
	Name             string `mapstructure:"name" validate:"required"`
	URL              string `mapstructure:"url"`
	Format           string `mapstructure:"format" validate:"required"`
	BaselineSeverity string `mapstructure:"baseline_severity"`
}

// Config holds all configuration for the tripwire service.
type Config struct {
	Redis struct {
		Addr     string `mapstructure:"addr" validate:"required"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"gte=0"`
		PoolSize int    `mapstructure:"pool_size" validate:"gte=1"`
	} `mapstructure:"redis"`

	Store struct {
		// TTL is the indicator expiry, refreshed on every write.
		TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
		LRUSize       int           `mapstructure:"lru_size" validate:"gte=0"`
		LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"gte=0"`
	} `mapstructure:"store"`

	Matcher struct {
		Workers int `mapstructure:"workers" validate:"gte=1"`
		// Confidence maps severity names to alert confidence in [0,1].
		Confidence map[string]float64 `mapstructure:"confidence"`
	} `mapstructure:"matcher"`

	Feeds struct {
		FetchTimeout       time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
		RefreshSchedule    string        `mapstructure:"refresh_schedule"`
		MaxConcurrentSyncs int           `mapstructure:"max_concurrent_syncs" validate:"gte=1"`
		Sources            []FeedSource  `mapstructure:"sources" validate:"dive"`
	} `mapstructure:"feeds"`

	API struct {
		Addr string `mapstructure:"addr" validate:"required"`
	} `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("store.ttl", "24h")
	v.SetDefault("store.lru_size", 4096)
	v.SetDefault("store.lookup_timeout", "2s")

	v.SetDefault("matcher.workers", 4)
	v.SetDefault("matcher.confidence", map[string]float64{
		"critical": 1.0,
		"high":     0.8,
		"medium":   0.5,
		"low":      0.3,
	})

	v.SetDefault("feeds.fetch_timeout", "60s")
	v.SetDefault("feeds.refresh_schedule", "@every 1h")
	v.SetDefault("feeds.max_concurrent_syncs", 3)

	v.SetDefault("api.addr", ":8080")
}

// Load reads configuration from the optional file at path, environment
// variables prefixed TRIPWIRE_, and built-in defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRIPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. A malformed confidence table or feed
// list is fatal: components must refuse to initialize rather than run with
// undefined behavior.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.ConfidenceTable(); err != nil {
		return err
	}

	for _, src := range c.Feeds.Sources {
		if !feed.Format(src.Format).IsValid() {
			return fmt.Errorf("feed source %q: unsupported format %q", src.Name, src.Format)
		}
		if src.BaselineSeverity != "" {
			if _, err := core.ParseSeverity(src.BaselineSeverity); err != nil {
				return fmt.Errorf("feed source %q: %w", src.Name, err)
			}
		}
	}
	return nil
}

// ConfidenceTable converts the configured severity-to-confidence map to its
// typed form. Every severity must be present with a value in [0,1].
func (c *Config) ConfidenceTable() (map[core.Severity]float64, error) {
	table := make(map[core.Severity]float64, len(c.Matcher.Confidence))
	for name, conf := range c.Matcher.Confidence {
		sev, err := core.ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("confidence table: %w", err)
		}
		if conf < 0 || conf > 1 {
			return nil, fmt.Errorf("confidence table: value for %q out of range [0,1]: %v", name, conf)
		}
		table[sev] = conf
	}
	for _, sev := range core.AllSeverities {
		if _, ok := table[sev]; !ok {
			return nil, fmt.Errorf("confidence table: missing severity %q", sev)
		}
	}
	return table, nil
}

// MatcherConfig builds the matching engine config.
func (c *Config) MatcherConfig() (match.Config, error) {
	table, err := c.ConfidenceTable()
	if err != nil {
		return match.Config{}, err
	}
	return match.Config{
		Workers:    c.Matcher.Workers,
		Confidence: table,
	}, nil
}

// FeedSources converts configured sources to their typed form. Load has
// already validated formats and severities.
func (c *Config) FeedSources() []feed.Source {
	sources := make([]feed.Source, 0, len(c.Feeds.Sources))
	for _, src := range c.Feeds.Sources {
		var baseline core.Severity
		if src.BaselineSeverity != "" {
			baseline, _ = core.ParseSeverity(src.BaselineSeverity)
		}
		sources = append(sources, feed.Source{
			Name:             src.Name,
			URL:              src.URL,
			Format:           feed.Format(src.Format),
			BaselineSeverity: baseline,
		})
	}
	return sources
}
