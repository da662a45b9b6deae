// Package cache holds the latest reading per (device, channel) for the
// HTTP surface. Last writer wins; storage is never consulted.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ibs-source/counterlog/internal/reading"
)

// Stats summarizes the cache content
type Stats struct {
	Readings      int            `json:"readings"`
	Devices       int            `json:"devices"`
	QualityCounts map[string]int `json:"quality_counts"`
	AverageRate   *float64       `json:"average_rate,omitempty"`
	RatedReadings int            `json:"rated_readings"`
}

// LatestCache is a concurrent last-value map keyed by (device, channel)
type LatestCache struct {
	mu      sync.RWMutex
	entries map[string]reading.DeviceReading
}

// New creates an empty cache
func New() *LatestCache {
	return &LatestCache{entries: make(map[string]reading.DeviceReading)}
}

// Set stores a reading, replacing any previous value for its key
func (c *LatestCache) Set(r reading.DeviceReading) {
	key := fmt.Sprintf("%s/%d", r.DeviceID, r.Channel)
	c.mu.Lock()
	c.entries[key] = r
	c.mu.Unlock()
}

// Snapshot returns every cached reading, ordered by device then channel
func (c *LatestCache) Snapshot() []reading.DeviceReading {
	c.mu.RLock()
	all := make([]reading.DeviceReading, 0, len(c.entries))
	for _, r := range c.entries {
		all = append(all, r)
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].DeviceID != all[j].DeviceID {
			return all[i].DeviceID < all[j].DeviceID
		}
		return all[i].Channel < all[j].Channel
	})
	return all
}

// Device returns the cached readings of one device, ordered by channel
func (c *LatestCache) Device(deviceID string) []reading.DeviceReading {
	c.mu.RLock()
	var readings []reading.DeviceReading
	for _, r := range c.entries {
		if r.DeviceID == deviceID {
			readings = append(readings, r)
		}
	}
	c.mu.RUnlock()

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Channel < readings[j].Channel
	})
	return readings
}

// Flush empties the cache
func (c *LatestCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]reading.DeviceReading)
	c.mu.Unlock()
}

// Stats aggregates counts, quality distribution and the average rate
func (c *LatestCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Readings:      len(c.entries),
		QualityCounts: make(map[string]int),
	}

	devices := make(map[string]bool)
	var rateSum float64
	for _, r := range c.entries {
		devices[r.DeviceID] = true
		stats.QualityCounts[r.Quality.String()]++
		if r.Rate != nil {
			rateSum += *r.Rate
			stats.RatedReadings++
		}
	}
	stats.Devices = len(devices)
	if stats.RatedReadings > 0 {
		avg := rateSum / float64(stats.RatedReadings)
		stats.AverageRate = &avg
	}
	return stats
}
