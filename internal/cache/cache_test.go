package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/counterlog/internal/reading"
)

func cachedReading(deviceID string, channel int, quality reading.Quality, rate *float64) reading.DeviceReading {
	return reading.DeviceReading{
		DeviceID:  deviceID,
		Channel:   channel,
		Timestamp: time.Now(),
		RawValue:  100,
		Quality:   quality,
		Rate:      rate,
	}
}

func TestSetReplacesPreviousValue(t *testing.T) {
	c := New()

	c.Set(cachedReading("dev1", 0, reading.QualityGood, nil))
	updated := cachedReading("dev1", 0, reading.QualityUncertain, nil)
	updated.RawValue = 200
	c.Set(updated)

	all := c.Snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, int64(200), all[0].RawValue)
	assert.Equal(t, reading.QualityUncertain, all[0].Quality)
}

func TestSnapshotOrdering(t *testing.T) {
	c := New()
	c.Set(cachedReading("zeta", 0, reading.QualityGood, nil))
	c.Set(cachedReading("alpha", 1, reading.QualityGood, nil))
	c.Set(cachedReading("alpha", 0, reading.QualityGood, nil))

	all := c.Snapshot()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].DeviceID)
	assert.Equal(t, 0, all[0].Channel)
	assert.Equal(t, "alpha", all[1].DeviceID)
	assert.Equal(t, 1, all[1].Channel)
	assert.Equal(t, "zeta", all[2].DeviceID)
}

func TestDevice(t *testing.T) {
	c := New()
	c.Set(cachedReading("dev1", 2, reading.QualityGood, nil))
	c.Set(cachedReading("dev1", 0, reading.QualityGood, nil))
	c.Set(cachedReading("dev2", 0, reading.QualityGood, nil))

	readings := c.Device("dev1")
	require.Len(t, readings, 2)
	assert.Equal(t, 0, readings[0].Channel)
	assert.Equal(t, 2, readings[1].Channel)

	assert.Empty(t, c.Device("ghost"))
}

func TestFlush(t *testing.T) {
	c := New()
	c.Set(cachedReading("dev1", 0, reading.QualityGood, nil))
	c.Flush()

	assert.Empty(t, c.Snapshot())
	assert.Equal(t, 0, c.Stats().Readings)
}

func TestStats(t *testing.T) {
	c := New()
	rate1, rate2 := 10.0, 20.0
	c.Set(cachedReading("dev1", 0, reading.QualityGood, &rate1))
	c.Set(cachedReading("dev1", 1, reading.QualityGood, &rate2))
	c.Set(cachedReading("dev2", 0, reading.QualityBad, nil))
	c.Set(cachedReading("dev3", 0, reading.QualityUncertain, nil))

	stats := c.Stats()
	assert.Equal(t, 4, stats.Readings)
	assert.Equal(t, 3, stats.Devices)
	assert.Equal(t, 2, stats.QualityCounts["Good"])
	assert.Equal(t, 1, stats.QualityCounts["Bad"])
	assert.Equal(t, 1, stats.QualityCounts["Uncertain"])
	assert.Equal(t, 2, stats.RatedReadings)
	require.NotNil(t, stats.AverageRate)
	assert.InDelta(t, 15.0, *stats.AverageRate, 1e-9)
}

func TestStatsEmpty(t *testing.T) {
	stats := New().Stats()
	assert.Equal(t, 0, stats.Readings)
	assert.Nil(t, stats.AverageRate)
}
