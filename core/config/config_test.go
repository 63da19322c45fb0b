package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/core/config"
)

type serverConfig struct {
	Port int    `env:"TEST_CFG_PORT" envDefault:"8080"`
	Host string `env:"TEST_CFG_HOST" envDefault:"localhost"`
}

type requiredConfig struct {
	Token string `env:"TEST_CFG_MISSING_TOKEN,required"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg serverConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestLoadCachesPerType(t *testing.T) {
	var first serverConfig
	require.NoError(t, config.Load(&first))

	// Changing the environment after the first load must not leak into
	// the cached value.
	t.Setenv("TEST_CFG_PORT", "9999")

	var second serverConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, first, second)
}

func TestLoadRequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_CFG_MISSING_TOKEN")
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}
