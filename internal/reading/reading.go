// Package reading defines the canonical device reading record, counter
// assembly from raw Modbus registers and reading validation.
package reading

import "time"

// Quality classifies the trustworthiness of a reading
type Quality int

// Quality levels, ordered from best to worst
const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
	QualityUnavailable
)

// String returns the storage representation of the quality tag
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "Good"
	case QualityUncertain:
		return "Uncertain"
	case QualityBad:
		return "Bad"
	case QualityUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// DeviceReading is one normalized counter sample. Instances are immutable
// once produced; the storage primary key is (Timestamp, DeviceID, Channel).
type DeviceReading struct {
	DeviceID       string    `json:"device_id"`
	Channel        int       `json:"channel"`
	Timestamp      time.Time `json:"timestamp"`
	RawValue       int64     `json:"raw_value"`
	ProcessedValue *float64  `json:"processed_value,omitempty"`
	Rate           *float64  `json:"rate,omitempty"`
	Quality        Quality   `json:"quality"`
	Unit           string    `json:"unit,omitempty"`
}

// AssembleCounter combines raw register words into a counter value. Counters
// are encoded little-word-first: the low word sits at the start register.
// One word yields a 16-bit value, two words a 32-bit value, four words a
// 64-bit value. The result is held in an int64 and is never negative for
// the 16- and 32-bit cases.
func AssembleCounter(words []uint16) int64 {
	var v uint64
	for i, w := range words {
		v |= uint64(w) << (16 * i)
	}
	return int64(v) // #nosec G115 - 1/2 word counters fit; 4-word wrap is the device contract
}
