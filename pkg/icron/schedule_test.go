package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_Daily(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 6 * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 6*time.Hour+30*time.Minute, info.TimeSinceLast)
	assert.Equal(t, 17*time.Hour+30*time.Minute, info.TimeUntilNext)
	assert.Equal(t, "0 6 * * *", info.Expression)
}

func TestGetTriggerInfo_FrequentScheduleFindsLatestFire(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 32, 0, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC), info.Last)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 35, 0, 0, time.UTC), info.Next)
}

func TestGetTriggerInfo_RefOnFireTime(t *testing.T) {
	ref := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@daily", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), info.Last)
	assert.Zero(t, info.TimeSinceLast)

	info, err = GetTriggerInfo("0 6 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, info.Last)
	assert.Equal(t, 24*time.Hour, info.TimeUntilNext)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("every morning", time.Now())
	assert.Error(t, err)

	_, err = GetTriggerInfo("0 0 6 * * *", time.Now())
	assert.Error(t, err, "seconds field is not accepted")
}
