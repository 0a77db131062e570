// Package config loads settings from config.yaml and the environment.
// Environment variables win over the file, with dots mapped to underscores
// (indexing.interval_hours -> INDEXING_INTERVAL_HOURS).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Bot      BotConfig                `mapstructure:"bot"`
	Indexing IndexingConfig           `mapstructure:"indexing"`
	Database DatabaseConfig           `mapstructure:"database"`
	Sitemap  SitemapConfig            `mapstructure:"sitemap"`
	Guilds   map[string]GuildOverride `mapstructure:"-"`
}

type BotConfig struct {
	Token string `mapstructure:"token"`
	// Environment gates the immediate index pass at startup: anything other
	// than "production" runs one right away.
	Environment string `mapstructure:"environment"`
}

type IndexingConfig struct {
	// Enabled is the kill switch for the whole indexing pipeline.
	Enabled               bool `mapstructure:"enabled"`
	IntervalHours         int  `mapstructure:"interval_hours"`
	MaxMessagesPerChannel int  `mapstructure:"max_messages_per_channel"`
	MaxArchivedThreads    int  `mapstructure:"max_archived_threads"`
	ConcurrentServers     int  `mapstructure:"concurrent_servers"`
	BatchSize             int  `mapstructure:"batch_size"`
	ChannelTimeoutSeconds int  `mapstructure:"channel_timeout_seconds"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SitemapConfig struct {
	// DelayMS is the pause between servers while warming the sitemap cache,
	// to avoid hammering storage right after a full index pass.
	DelayMS int `mapstructure:"delay_ms"`
}

// GuildOverride carries per-guild settings keyed by guild snowflake in the
// config file.
type GuildOverride struct {
	AnonymizeMessages         bool     `mapstructure:"anonymize_messages"`
	ConsiderAllMessagesPublic bool     `mapstructure:"consider_all_messages_public"`
	Exclude                   []string `mapstructure:"exclude"`
}

// Load reads .env, config.yaml and the environment into a Config. A missing
// config file is fine; a malformed one is not.
func Load() (*Config, error) {
	// Environment variables from .env first, ignored when absent.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	guilds, err := decodeGuildOverrides(v)
	if err != nil {
		return nil, err
	}
	cfg.Guilds = guilds

	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("no bot token provided; set BOT_TOKEN or bot.token")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.environment", "production")
	v.SetDefault("indexing.enabled", true)
	v.SetDefault("indexing.interval_hours", 6)
	v.SetDefault("indexing.max_messages_per_channel", 20000)
	v.SetDefault("indexing.max_archived_threads", 100)
	v.SetDefault("indexing.concurrent_servers", 3)
	v.SetDefault("indexing.batch_size", 100)
	v.SetDefault("indexing.channel_timeout_seconds", 300)
	v.SetDefault("database.path", "data/indexer.db")
	v.SetDefault("sitemap.delay_ms", 250)
}

// decodeGuildOverrides picks the snowflake-keyed entries out of the guilds
// map and decodes each one. Keys that are not plain digit strings are
// ignored.
func decodeGuildOverrides(v *viper.Viper) (map[string]GuildOverride, error) {
	raw := v.GetStringMap("guilds")
	out := make(map[string]GuildOverride, len(raw))
	for key, value := range raw {
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			continue
		}
		var override GuildOverride
		if err := mapstructure.Decode(value, &override); err != nil {
			return nil, fmt.Errorf("failed to decode guild override %s: %w", key, err)
		}
		out[key] = override
	}
	return out, nil
}
