// Package schema defines the logical shape every engine operation depends on:
// the Reading record, the recognized sensor types, and the canonical ordering
// contract (within a device partition, readings enumerate timestamp-descending,
// newest first).
//
// The package holds no mutable state; it is pure validation and shape logic.
package schema

import (
	"math"
	"time"
	"unicode"

	"github.com/sensorhub-io/sensorhub/internal/errors"
)

// SensorType identifies the kind of measurement a reading carries.
type SensorType string

const (
	// SensorTemperature is an ambient temperature sample in Celsius.
	SensorTemperature SensorType = "temperature"
	// SensorHumidity is a relative humidity sample in percent.
	SensorHumidity SensorType = "humidity"
	// SensorMotion is a binary motion sample (0 = no motion, 1 = motion).
	SensorMotion SensorType = "motion"
)

// AllSensorTypes lists every recognized sensor type.
func AllSensorTypes() []SensorType {
	return []SensorType{SensorTemperature, SensorHumidity, SensorMotion}
}

// Valid returns true if t is a recognized sensor type.
func (t SensorType) Valid() bool {
	switch t {
	case SensorTemperature, SensorHumidity, SensorMotion:
		return true
	}
	return false
}

// String returns the wire representation of the sensor type.
func (t SensorType) String() string { return string(t) }

// ParseSensorType parses a sensor type name.
func ParseSensorType(s string) (SensorType, error) {
	t := SensorType(s)
	if !t.Valid() {
		return "", errors.NewInvalidArgument("sensor_type", "unrecognized value '"+s+"'")
	}
	return t, nil
}

// MaxDeviceIDLength bounds device identifiers.
const MaxDeviceIDLength = 255

// Reading is one telemetry sample. DeviceID is the partition key; Timestamp
// is the clustering key, ordered descending. A Reading is created once by the
// ingestion engine and is immutable thereafter; "correcting" a value means
// writing a new Reading.
type Reading struct {
	DeviceID   string
	Timestamp  time.Time
	SensorType SensorType
	Value      float64
}

// Key returns the natural key of the reading. Re-applying a reading with the
// same key is idempotent at the store, which is what makes at-least-once
// delivery on the write path safe.
func (r *Reading) Key() string {
	return r.DeviceID + "/" + r.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Validate checks the reading against the schema contract. All failures wrap
// errors.ErrInvalidReading.
func (r *Reading) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	if !r.SensorType.Valid() {
		return errors.NewInvalidReading("sensor_type", "unrecognized value '"+string(r.SensorType)+"'")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.NewInvalidReading("value", "must be finite")
	}
	if r.Timestamp.IsZero() {
		return errors.NewInvalidReading("timestamp", "must be set")
	}
	return nil
}

// ValidateDeviceID validates a device identifier. The same rules apply to
// identifiers supplied by callers on the read path.
func ValidateDeviceID(id string) error {
	if id == "" {
		return errors.NewInvalidReading("device_id", "must not be empty")
	}
	if len(id) > MaxDeviceIDLength {
		return errors.NewInvalidReading("device_id", "too long")
	}
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			continue
		}
		return errors.NewInvalidReading("device_id", "invalid character '"+string(r)+"'")
	}
	return nil
}

// Before reports whether a sorts after b in the canonical enumeration order
// (timestamp descending): true when a is newer than b.
func Before(a, b *Reading) bool {
	return a.Timestamp.After(b.Timestamp)
}
