package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredBoundaryIsExclusive(t *testing.T) {
	end := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	period := UsagePeriod{PeriodEnd: end}

	assert.False(t, period.Expired(end.Add(-time.Nanosecond)))
	assert.True(t, period.Expired(end))
	assert.True(t, period.Expired(end.Add(time.Hour)))
}

func TestRemainingMayGoNegative(t *testing.T) {
	period := UsagePeriod{TokensLimit: 1000, TokensUsed: 1500}
	assert.Equal(t, int64(-500), period.Remaining())
}

func TestUsedPercentageRounding(t *testing.T) {
	assert.Equal(t, 33.3, UsagePeriod{TokensLimit: 3, TokensUsed: 1}.UsedPercentage())
	assert.Equal(t, 66.7, UsagePeriod{TokensLimit: 3, TokensUsed: 2}.UsedPercentage())
	assert.Equal(t, 100.0, UsagePeriod{TokensLimit: 100, TokensUsed: 100}.UsedPercentage())
	assert.Equal(t, 150.0, UsagePeriod{TokensLimit: 100, TokensUsed: 150}.UsedPercentage())
	assert.Equal(t, 0.0, UsagePeriod{TokensLimit: 0, TokensUsed: 10}.UsedPercentage())
}

func TestCycleBoundsAnchorToCalendarMonth(t *testing.T) {
	start, end := CycleBounds(time.Date(2026, time.February, 14, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), end)

	// December rolls into the next year.
	start, end = CycleBounds(time.Date(2025, time.December, 31, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}
