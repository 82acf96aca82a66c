package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("NODE_ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SOURCE_TYPES", "")
	t.Setenv("AUTO_MIGRATE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.AutoMigrate)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "energy-trades", cfg.KafkaTradeTopic)
	assert.Equal(t, []string{"energy-solar", "energy-wind", "energy-hydro"}, cfg.PriceFeedTopics)
	assert.Equal(t, []string{"solar", "wind", "hydro", "biomass", "tides"}, cfg.SourceTypes)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("SOURCE_TYPES", "SOLAR,Geothermal")
	t.Setenv("AUTO_MIGRATE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"solar", "geothermal"}, cfg.SourceTypes)
}

func TestLoad_AutoMigrateOverride(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTO_MIGRATE", "TRUE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AutoMigrate)
}
