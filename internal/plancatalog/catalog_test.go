package plancatalog

import (
	"testing"

	"github.com/sparlo/tokengate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupBuiltinTiers(t *testing.T) {
	catalog := New(config.Config{})

	plan, err := catalog.Lookup("price_starter")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), plan.TokensLimit)

	plan, err = catalog.Lookup("price_pro")
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), plan.TokensLimit)

	plan, err = catalog.Lookup("price_scale")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), plan.TokensLimit)
}

func TestLookupConfigOverridesBuiltin(t *testing.T) {
	catalog := New(config.Config{PlanLimits: map[string]int64{
		"price_starter": 2_000_000,
		"price_custom":  500_000,
	}})

	plan, err := catalog.Lookup("price_starter")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), plan.TokensLimit)

	plan, err = catalog.Lookup("price_custom")
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), plan.TokensLimit)
}

func TestLookupUnknownPlan(t *testing.T) {
	catalog := New(config.Config{})

	_, err := catalog.Lookup("price_nonexistent")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = catalog.Lookup("")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = catalog.Lookup("   ")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}
