package reading

import (
	"fmt"
	"sync"
	"time"
)

// MinRateWindow is the minimum sample spacing before a rate is derived.
// Below this the register granularity makes the quotient too noisy.
const MinRateWindow = 10 * time.Second

const (
	// counterRange is the full span of a 32-bit hardware counter
	counterRange = int64(1) << 32
	// wrapThreshold marks the zone near the top of the counter range where a
	// drop is interpreted as a wrap rather than a device reset
	wrapThreshold = counterRange - int64(1)<<20
)

// Input carries one raw sample plus its channel processing parameters
type Input struct {
	DeviceID      string
	Channel       int
	Timestamp     time.Time
	Raw           int64
	Scale         float64
	Offset        float64
	Min           *float64
	Max           *float64
	MaxChangeRate *float64
	Unit          string
	RateWindow    time.Duration
}

type sample struct {
	raw int64
	ts  time.Time
}

// Validator derives processed values, quality tags and rates from raw
// samples. It keeps the previous accepted sample per (device, channel) so
// that rate and change checks survive across polls. Safe for concurrent use.
type Validator struct {
	mu   sync.Mutex
	last map[string]sample
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{last: make(map[string]sample)}
}

// Evaluate turns a raw sample into a DeviceReading.
//
// Quality assignment: Good when bounds and change checks pass, Uncertain when
// bounds pass but the change exceeds MaxChangeRate×Δt (or the counter appears
// to have reset), Bad on a bounds violation. ProcessedValue is only set for
// Good and Uncertain readings.
//
// Counter wrap policy: a negative delta is treated as a 32-bit wrap when the
// previous raw value was above wrapThreshold and the drop exceeds half the
// counter range; otherwise it is treated as a device reset, which yields
// quality Uncertain and no rate.
func (v *Validator) Evaluate(in Input) DeviceReading {
	r := DeviceReading{
		DeviceID:  in.DeviceID,
		Channel:   in.Channel,
		Timestamp: in.Timestamp,
		RawValue:  in.Raw,
		Quality:   QualityGood,
		Unit:      in.Unit,
	}

	processed := float64(in.Raw)*in.Scale + in.Offset

	if (in.Min != nil && processed < *in.Min) || (in.Max != nil && processed > *in.Max) {
		// Out of bounds: keep the raw value for the record of truth but do
		// not expose a processed value, and forget nothing about history.
		r.Quality = QualityBad
		return r
	}
	r.ProcessedValue = &processed

	key := sampleKey(in.DeviceID, in.Channel)

	v.mu.Lock()
	prev, ok := v.last[key]
	v.last[key] = sample{raw: in.Raw, ts: in.Timestamp}
	v.mu.Unlock()

	if !ok {
		return r
	}

	delta := in.Raw - prev.raw
	if delta < 0 {
		if prev.raw > wrapThreshold && -delta > counterRange/2 {
			delta += counterRange
		} else {
			// Counter reset: the sample itself may be fine but the history
			// is broken, so no rate and a downgraded quality.
			r.Quality = QualityUncertain
			return r
		}
	}

	dt := in.Timestamp.Sub(prev.ts)
	if dt <= 0 {
		return r
	}

	if in.MaxChangeRate != nil && float64(delta)*in.Scale > *in.MaxChangeRate*dt.Seconds() {
		r.Quality = QualityUncertain
	}

	window := in.RateWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	if dt >= MinRateWindow && dt <= window {
		rate := float64(delta) * in.Scale / dt.Seconds()
		r.Rate = &rate
	}

	return r
}

// Reset forgets the sample history of one (device, channel)
func (v *Validator) Reset(deviceID string, channel int) {
	v.mu.Lock()
	delete(v.last, sampleKey(deviceID, channel))
	v.mu.Unlock()
}

// ResetDevice forgets every channel of a device
func (v *Validator) ResetDevice(deviceID string) {
	prefix := deviceID + "/"
	v.mu.Lock()
	for k := range v.last {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(v.last, k)
		}
	}
	v.mu.Unlock()
}

// Unavailable builds the reading emitted when no data could be obtained
func Unavailable(deviceID string, channel int, ts time.Time) DeviceReading {
	return DeviceReading{
		DeviceID:  deviceID,
		Channel:   channel,
		Timestamp: ts,
		Quality:   QualityUnavailable,
	}
}

func sampleKey(deviceID string, channel int) string {
	return fmt.Sprintf("%s/%d", deviceID, channel)
}
