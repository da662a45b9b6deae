package mqtt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
)

// jsonExtractor holds the pre-compiled field paths of one JSON device.
// Compiling at router build time keeps per-message work to plain lookups.
type jsonExtractor struct {
	channel   string
	value     string
	deviceID  string
	timestamp string
}

// Processor decodes incoming MQTT messages into readings. Messages without
// an owning device or that fail decode are counted and dropped; they never
// reach the dead-letter queue.
type Processor struct {
	router     *Router
	validator  *reading.Validator
	onReading  func(reading.DeviceReading)
	extractors map[string]jsonExtractor
	log        *log.Logger

	received atomic.Uint64
	decoded  atomic.Uint64
	failed   atomic.Uint64
}

// NewProcessor builds the processor and pre-compiles JSON extractors
func NewProcessor(
	devices []config.MQTTDeviceConfig,
	router *Router,
	validator *reading.Validator,
	onReading func(reading.DeviceReading),
	logger *log.Logger,
) *Processor {
	extractors := make(map[string]jsonExtractor)
	for i := range devices {
		d := &devices[i]
		if d.Format == config.FormatJSON {
			extractors[d.DeviceID] = jsonExtractor{
				channel:   gjsonPath(d.ChannelPath),
				value:     gjsonPath(d.ValuePath),
				deviceID:  gjsonPath(d.DeviceIDPath),
				timestamp: gjsonPath(d.TimestampPath),
			}
		}
	}
	return &Processor{
		router:     router,
		validator:  validator,
		onReading:  onReading,
		extractors: extractors,
		log:        logger,
	}
}

// HandleMessage is the broker message callback
func (p *Processor) HandleMessage(topic string, payload []byte) {
	p.received.Add(1)
	arrival := time.Now()

	device := p.router.Match(topic)
	if device == nil {
		p.failed.Add(1)
		p.log.Debug("No device registered for topic %s", topic)
		return
	}

	r, err := p.decode(device, payload, arrival)
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("Failed to decode message on %s for device %s: %v", topic, device.DeviceID, err)
		return
	}

	p.decoded.Add(1)
	if p.onReading != nil {
		p.onReading(r)
	}
}

// Stats returns (received, decoded, failed) message counters
func (p *Processor) Stats() (uint64, uint64, uint64) {
	return p.received.Load(), p.decoded.Load(), p.failed.Load()
}

func (p *Processor) decode(device *config.MQTTDeviceConfig, payload []byte, arrival time.Time) (reading.DeviceReading, error) {
	switch device.Format {
	case config.FormatJSON:
		return p.decodeJSON(device, payload, arrival)
	case config.FormatBinary:
		return p.decodeBinary(device, payload, arrival)
	case config.FormatCSV:
		return p.decodeCSV(device, payload, arrival)
	default:
		return reading.DeviceReading{}, fmt.Errorf("unknown payload format %q", device.Format)
	}
}

func (p *Processor) decodeJSON(device *config.MQTTDeviceConfig, payload []byte, arrival time.Time) (reading.DeviceReading, error) {
	if !gjson.ValidBytes(payload) {
		return reading.DeviceReading{}, fmt.Errorf("invalid json")
	}
	ex := p.extractors[device.DeviceID]

	channelField := gjson.GetBytes(payload, ex.channel)
	if !channelField.Exists() {
		return reading.DeviceReading{}, fmt.Errorf("channel path %q not found", ex.channel)
	}
	valueField := gjson.GetBytes(payload, ex.value)
	if !valueField.Exists() {
		return reading.DeviceReading{}, fmt.Errorf("value path %q not found", ex.value)
	}

	value, err := coerceValue(valueField.Float(), device.DataType)
	if err != nil {
		return reading.DeviceReading{}, err
	}

	deviceID := device.DeviceID
	if ex.deviceID != "" {
		if f := gjson.GetBytes(payload, ex.deviceID); f.Exists() && f.String() != "" {
			deviceID = f.String()
		}
	}

	ts := arrival
	if ex.timestamp != "" {
		if f := gjson.GetBytes(payload, ex.timestamp); f.Exists() {
			if parsed, ok := parseTimestamp(f.String()); ok {
				ts = parsed
			}
		}
	}

	return p.buildReading(device, deviceID, int(channelField.Int()), value, ts), nil
}

func (p *Processor) decodeBinary(device *config.MQTTDeviceConfig, payload []byte, arrival time.Time) (reading.DeviceReading, error) {
	// Binary payloads carry a single value in network byte order; the
	// channel is implicitly 0.
	var value float64
	switch device.DataType {
	case config.DataTypeUInt16:
		if len(payload) < 2 {
			return reading.DeviceReading{}, fmt.Errorf("payload too short for uint16: %d bytes", len(payload))
		}
		value = float64(binary.BigEndian.Uint16(payload))
	case config.DataTypeInt16:
		if len(payload) < 2 {
			return reading.DeviceReading{}, fmt.Errorf("payload too short for int16: %d bytes", len(payload))
		}
		value = float64(int16(binary.BigEndian.Uint16(payload))) // #nosec G115 - intentional reinterpretation
	case config.DataTypeUInt32:
		if len(payload) < 4 {
			return reading.DeviceReading{}, fmt.Errorf("payload too short for uint32: %d bytes", len(payload))
		}
		value = float64(binary.BigEndian.Uint32(payload))
	case config.DataTypeFloat32:
		if len(payload) < 4 {
			return reading.DeviceReading{}, fmt.Errorf("payload too short for float32: %d bytes", len(payload))
		}
		value = float64(math.Float32frombits(binary.BigEndian.Uint32(payload)))
	case config.DataTypeFloat64:
		if len(payload) < 8 {
			return reading.DeviceReading{}, fmt.Errorf("payload too short for float64: %d bytes", len(payload))
		}
		value = math.Float64frombits(binary.BigEndian.Uint64(payload))
	default:
		return reading.DeviceReading{}, fmt.Errorf("unknown data type %q", device.DataType)
	}

	return p.buildReading(device, device.DeviceID, 0, value, arrival), nil
}

func (p *Processor) decodeCSV(device *config.MQTTDeviceConfig, payload []byte, arrival time.Time) (reading.DeviceReading, error) {
	// Positions: channel, value [, timestamp]
	fields := strings.Split(string(payload), ",")
	if len(fields) < 2 {
		return reading.DeviceReading{}, fmt.Errorf("csv payload needs at least channel and value")
	}

	channel, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return reading.DeviceReading{}, fmt.Errorf("invalid csv channel: %w", err)
	}

	raw, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return reading.DeviceReading{}, fmt.Errorf("invalid csv value: %w", err)
	}
	value, err := coerceValue(raw, device.DataType)
	if err != nil {
		return reading.DeviceReading{}, err
	}

	ts := arrival
	if len(fields) >= 3 {
		if parsed, ok := parseTimestamp(strings.TrimSpace(fields[2])); ok {
			ts = parsed
		}
	}

	return p.buildReading(device, device.DeviceID, channel, value, ts), nil
}

// buildReading applies scale and unit. Integer counter types run through the
// validator so wrap detection and rate derivation apply; float gauges carry
// the scaled value directly and no rate.
func (p *Processor) buildReading(device *config.MQTTDeviceConfig, deviceID string, channel int, value float64, ts time.Time) reading.DeviceReading {
	switch device.DataType {
	case config.DataTypeUInt32, config.DataTypeUInt16, config.DataTypeInt16:
		return p.validator.Evaluate(reading.Input{
			DeviceID:  deviceID,
			Channel:   channel,
			Timestamp: ts,
			Raw:       int64(value),
			Scale:     device.ScaleFactor,
			Unit:      device.Unit,
		})
	default:
		processed := value * device.ScaleFactor
		return reading.DeviceReading{
			DeviceID:       deviceID,
			Channel:        channel,
			Timestamp:      ts,
			RawValue:       int64(value),
			ProcessedValue: &processed,
			Quality:        reading.QualityGood,
			Unit:           device.Unit,
		}
	}
}

// coerceValue checks that a decoded number fits the declared data type
func coerceValue(v float64, dataType string) (float64, error) {
	switch dataType {
	case config.DataTypeUInt16:
		if v < 0 || v > math.MaxUint16 {
			return 0, fmt.Errorf("value %v out of uint16 range", v)
		}
	case config.DataTypeInt16:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return 0, fmt.Errorf("value %v out of int16 range", v)
		}
	case config.DataTypeUInt32:
		if v < 0 || v > math.MaxUint32 {
			return 0, fmt.Errorf("value %v out of uint32 range", v)
		}
	case config.DataTypeFloat32, config.DataTypeFloat64:
	default:
		return 0, fmt.Errorf("unknown data type %q", dataType)
	}
	return v, nil
}

// parseTimestamp accepts RFC3339 strings or unix seconds
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, true
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		sec, frac := math.Modf(secs)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return time.Time{}, false
}

// gjsonPath converts a JSON-path expression ($.a.b) into a gjson path (a.b)
func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$.")
	return strings.TrimPrefix(path, "$")
}
