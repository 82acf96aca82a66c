package config

import (
	"strings"

	"quantumgrid-backend/internal/domain"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env             string
	Port            string
	DatabaseURL     string // postgres DSN, or a sqlite "file:" DSN for local runs
	RedisURL        string
	CORSOrigin      string // allowed origin suffix, e.g. .quantumgrid.energy
	DevPassword     string
	HealthAdminKey  string
	LogLevel        string
	AutoMigrate     bool
	KafkaBrokers    []string
	KafkaTradeTopic string
	PriceFeedTopics []string
	PriceFeedGroup  string
	SourceTypes     []string
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KAFKA_TRADE_TOPIC", "energy-trades")
	v.SetDefault("PRICE_FEED_TOPICS", "energy-solar,energy-wind,energy-hydro")
	v.SetDefault("PRICE_FEED_GROUP", "energy-consumers")
	v.SetDefault("SOURCE_TYPES", strings.Join(domain.DefaultSourceTypes, ","))

	env := v.GetString("APP_ENV")
	if env == "" {
		env = v.GetString("NODE_ENV")
	}
	if env == "" {
		env = "development"
	}

	autoMigrate := env != "production"
	if s := strings.TrimSpace(v.GetString("AUTO_MIGRATE")); s != "" {
		autoMigrate = strings.EqualFold(s, "true")
	}

	return &Config{
		Env:             env,
		Port:            v.GetString("PORT"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisURL:        v.GetString("REDIS_URL"),
		CORSOrigin:      v.GetString("CORS_ORIGIN"),
		DevPassword:     v.GetString("DEV_PASSWORD"),
		HealthAdminKey:  v.GetString("HEALTH_ADMIN_KEY"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		AutoMigrate:     autoMigrate,
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTradeTopic: v.GetString("KAFKA_TRADE_TOPIC"),
		PriceFeedTopics: splitList(v.GetString("PRICE_FEED_TOPICS")),
		PriceFeedGroup:  v.GetString("PRICE_FEED_GROUP"),
		SourceTypes:     lowerAll(splitList(v.GetString("SOURCE_TYPES"))),
	}, nil
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}
