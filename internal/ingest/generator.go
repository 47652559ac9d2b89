package ingest

import (
	"math"
	"math/rand"
	"time"

	"github.com/sensorhub-io/sensorhub/internal/schema"
)

// Value ranges for simulated sensors. Temperature in Celsius, humidity in
// percent, motion binary.
var sensorRanges = map[schema.SensorType][2]float64{
	schema.SensorTemperature: {20.0, 35.0},
	schema.SensorHumidity:    {30.0, 90.0},
	schema.SensorMotion:      {0, 1},
}

// generator produces simulated readings for one device. Each producer owns
// its own generator, so no synchronization is needed.
type generator struct {
	deviceID string
	types    []schema.SensorType
	rng      *rand.Rand

	// lastTs is the per-device monotonic floor. The partition invariant
	// requires distinct timestamps per device; if two cycles land on the
	// same millisecond the second is nudged forward.
	lastTs time.Time
}

func newGenerator(deviceID string, types []schema.SensorType, seed int64) *generator {
	return &generator{
		deviceID: deviceID,
		types:    types,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// next builds a reading for the current cycle. The timestamp is strictly
// greater than any previously issued for this device, at millisecond
// granularity to match the store's timestamp resolution.
func (g *generator) next(now time.Time) schema.Reading {
	ts := now.Truncate(time.Millisecond)
	if !ts.After(g.lastTs) {
		ts = g.lastTs.Add(time.Millisecond)
	}
	g.lastTs = ts

	sensorType := g.types[g.rng.Intn(len(g.types))]

	return schema.Reading{
		DeviceID:   g.deviceID,
		Timestamp:  ts,
		SensorType: sensorType,
		Value:      g.value(sensorType),
	}
}

func (g *generator) value(t schema.SensorType) float64 {
	r := sensorRanges[t]

	if t == schema.SensorMotion {
		return float64(g.rng.Intn(2))
	}

	// Continuous value with 2 decimal places.
	v := r[0] + g.rng.Float64()*(r[1]-r[0])
	return math.Round(v*100) / 100
}

// interval returns a uniformly random sleep duration in [min, max].
func (g *generator) interval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(g.rng.Int63n(int64(max-min)))
}
