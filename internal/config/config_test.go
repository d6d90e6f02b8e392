package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePlanLimits(t *testing.T) {
	limits := parsePlanLimits("price_starter=1000000, price_pro=3000000")
	assert.Equal(t, map[string]int64{
		"price_starter": 1_000_000,
		"price_pro":     3_000_000,
	}, limits)
}

func TestParsePlanLimitsSkipsMalformedEntries(t *testing.T) {
	limits := parsePlanLimits("price_ok=500000,broken,price_neg=-5,price_nan=abc,=10")
	assert.Equal(t, map[string]int64{"price_ok": 500_000}, limits)
}

func TestParsePlanLimitsEmpty(t *testing.T) {
	assert.Empty(t, parsePlanLimits(""))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "tokengate", cfg.AppName)
	assert.Equal(t, int64(50_000), cfg.DefaultTokenLimit)
	assert.True(t, cfg.SweepEnabled)
}
