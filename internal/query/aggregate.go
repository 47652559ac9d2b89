package query

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/sensorhub-io/sensorhub/internal/schema"
)

// WindowStats summarizes one device's readings of one sensor type over a
// time window.
type WindowStats struct {
	DeviceID   string
	SensorType schema.SensorType
	Since      time.Time

	Count int64
	Avg   float64
	Min   float64
	Max   float64

	// Percentiles are computed streaming with DDSketch at 1% relative
	// accuracy. Zero when Count is 0.
	P50 float64
	P95 float64
}

// windowAggregate maintains running statistics while a windowed scan pages
// through a partition. It never materializes the window.
type windowAggregate struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newWindowAggregate() *windowAggregate {
	agg := &windowAggregate{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}

	// 1% relative accuracy; construction only fails for out-of-range
	// accuracy values.
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err == nil {
		agg.sketch = sketch
	}

	return agg
}

func (a *windowAggregate) add(value float64) {
	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// stats finalizes the aggregate. Returns false when nothing was added.
func (a *windowAggregate) stats(deviceID string, sensorType schema.SensorType, since time.Time) (WindowStats, bool) {
	if a.count == 0 {
		return WindowStats{}, false
	}

	s := WindowStats{
		DeviceID:   deviceID,
		SensorType: sensorType,
		Since:      since,
		Count:      a.count,
		Avg:        a.sum / float64(a.count),
		Min:        a.min,
		Max:        a.max,
	}

	if a.sketch != nil {
		if p50, err := a.sketch.GetValueAtQuantile(0.50); err == nil {
			s.P50 = p50
		}
		if p95, err := a.sketch.GetValueAtQuantile(0.95); err == nil {
			s.P95 = p95
		}
	}

	return s, true
}
