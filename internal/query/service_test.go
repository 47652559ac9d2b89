package query

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/schema"
	"github.com/sensorhub-io/sensorhub/internal/store"
)

// faultStore wraps Memory with fault injection on the read side, which the
// in-memory store only provides for writes.
type faultStore struct {
	*store.Memory
	failReads   int
	failDevices int
}

func (f *faultStore) ReadRange(ctx context.Context, q store.RangeQuery) ([]schema.Reading, error) {
	if f.failReads > 0 {
		f.failReads--
		return nil, errors.NewStoreUnavailable("read range", errors.ErrTimeout)
	}
	return f.Memory.ReadRange(ctx, q)
}

func (f *faultStore) Devices(ctx context.Context) ([]string, error) {
	if f.failDevices > 0 {
		f.failDevices--
		return nil, errors.NewStoreUnavailable("list devices", errors.ErrTimeout)
	}
	return f.Memory.Devices(ctx)
}

func fastQueryConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

// seed inserts n readings of one type, one per second, ending at end.
func seed(t *testing.T, m *store.Memory, deviceID string, sensorType schema.SensorType, end time.Time, values ...float64) {
	t.Helper()

	for i, v := range values {
		m.Insert(schema.Reading{
			DeviceID:   deviceID,
			Timestamp:  end.Add(-time.Duration(len(values)-1-i) * time.Second),
			SensorType: sensorType,
			Value:      v,
		})
	}
}

func TestService_RecentReadings(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29)

	svc := New(fastQueryConfig(), mem)

	got, err := svc.RecentReadings(context.Background(), "device_1", 5)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d readings, want 5", len(got))
	}

	seen := make(map[string]bool)
	for i, r := range got {
		if i > 0 && !got[i-1].Timestamp.After(r.Timestamp) {
			t.Errorf("readings not strictly descending at index %d", i)
		}
		if seen[r.Key()] {
			t.Errorf("duplicate reading %s", r.Key())
		}
		seen[r.Key()] = true
	}
	// Newest value seeded is 29.
	if got[0].Value != 29 {
		t.Errorf("newest reading value %v, want 29", got[0].Value)
	}
}

func TestService_RecentReadingsArguments(t *testing.T) {
	svc := New(fastQueryConfig(), store.NewMemory())

	if _, err := svc.RecentReadings(context.Background(), "device_1", 0); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("zero limit: got %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.RecentReadings(context.Background(), "", 10); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("empty device: got %v, want ErrInvalidArgument", err)
	}

	// An unknown device is an empty answer, not an error.
	got, err := svc.RecentReadings(context.Background(), "device_99", 10)
	if err != nil {
		t.Fatalf("unknown device: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unknown device returned %d readings", len(got))
	}
}

func TestService_RecentReadingsSkipsMalformed(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 20, 21)
	// A row with an unrecognized type, as if written by an older build.
	mem.Insert(schema.Reading{
		DeviceID:   "device_1",
		Timestamp:  end.Add(time.Second),
		SensorType: "pressure",
		Value:      1013,
	})

	svc := New(fastQueryConfig(), mem)

	got, err := svc.RecentReadings(context.Background(), "device_1", 10)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d readings, want 2 (malformed skipped)", len(got))
	}
	for _, r := range got {
		if !r.SensorType.Valid() {
			t.Errorf("malformed reading %q surfaced", r.SensorType)
		}
	}
	if skipped := svc.Stats().RowsSkipped; skipped != 1 {
		t.Errorf("RowsSkipped = %d, want 1", skipped)
	}
}

func TestService_AverageOverWindow(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 10, 20, 30)

	svc := New(fastQueryConfig(), mem)

	avg, err := svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-time.Minute))
	if err != nil {
		t.Fatalf("AverageOverWindow: %v", err)
	}
	if avg != 20.0 {
		t.Errorf("avg = %v, want 20.0", avg)
	}
}

func TestService_AverageOverWindowNoData(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorHumidity, end, 55)

	svc := New(fastQueryConfig(), mem)

	// No rows at all for the device.
	_, err := svc.AverageOverWindow(context.Background(), "device_99", schema.SensorTemperature, end.Add(-time.Minute))
	if !errors.Is(err, errors.ErrNoData) {
		t.Errorf("empty device: got %v, want ErrNoData", err)
	}

	// Rows exist but none of the requested type. NoData is distinct from an
	// average of zero.
	_, err = svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-time.Minute))
	if !errors.Is(err, errors.ErrNoData) {
		t.Errorf("type mismatch: got %v, want ErrNoData", err)
	}
}

func TestService_AverageOverWindowBoundary(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	// 100 inside the window, 999 a minute before it.
	seed(t, mem, "device_1", schema.SensorTemperature, end, 100)
	mem.Insert(schema.Reading{
		DeviceID:   "device_1",
		Timestamp:  end.Add(-2 * time.Minute),
		SensorType: schema.SensorTemperature,
		Value:      999,
	})

	svc := New(fastQueryConfig(), mem)

	avg, err := svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-time.Minute))
	if err != nil {
		t.Fatalf("AverageOverWindow: %v", err)
	}
	if avg != 100.0 {
		t.Errorf("avg = %v, want 100.0 (older reading must be excluded)", avg)
	}
}

func TestService_AverageOverWindowFiltersTypes(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 10, 20)
	seed(t, mem, "device_1", schema.SensorHumidity, end.Add(-time.Hour+30*time.Minute), 80, 90)

	svc := New(fastQueryConfig(), mem)

	avg, err := svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("AverageOverWindow: %v", err)
	}
	if avg != 15.0 {
		t.Errorf("avg = %v, want 15.0 (humidity rows must be filtered out)", avg)
	}
}

func TestService_ScanWindowPaging(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)

	values := make([]float64, 20)
	var sum float64
	for i := range values {
		values[i] = float64(i)
		sum += values[i]
	}
	seed(t, mem, "device_1", schema.SensorTemperature, end, values...)

	cfg := fastQueryConfig()
	cfg.PageSize = 3
	svc := New(cfg, mem)

	avg, err := svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-time.Minute))
	if err != nil {
		t.Fatalf("AverageOverWindow: %v", err)
	}
	want := sum / float64(len(values))
	if math.Abs(avg-want) > 1e-9 {
		t.Errorf("avg = %v, want %v (paging must cover the full window)", avg, want)
	}
}

func TestService_StatsOverWindow(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 10, 20, 30, 40, 50)

	svc := New(fastQueryConfig(), mem)

	stats, err := svc.StatsOverWindow(context.Background(), "device_1", schema.SensorTemperature, end.Add(-time.Minute))
	if err != nil {
		t.Fatalf("StatsOverWindow: %v", err)
	}

	if stats.Count != 5 {
		t.Errorf("Count = %d, want 5", stats.Count)
	}
	if stats.Avg != 30.0 {
		t.Errorf("Avg = %v, want 30.0", stats.Avg)
	}
	if stats.Min != 10 || stats.Max != 50 {
		t.Errorf("Min/Max = %v/%v, want 10/50", stats.Min, stats.Max)
	}
	// DDSketch percentiles carry 1% relative error; check sanity bounds.
	if stats.P50 < stats.Min || stats.P50 > stats.Max {
		t.Errorf("P50 = %v outside [%v, %v]", stats.P50, stats.Min, stats.Max)
	}
	if stats.P95 < stats.P50 || stats.P95 > stats.Max*1.01 {
		t.Errorf("P95 = %v not between P50 and Max", stats.P95)
	}

	_, err = svc.StatsOverWindow(context.Background(), "device_99", schema.SensorTemperature, end.Add(-time.Minute))
	if !errors.Is(err, errors.ErrNoData) {
		t.Errorf("empty device: got %v, want ErrNoData", err)
	}
}

func TestService_ZeroSinceUsesDefaultWindow(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now().Truncate(time.Millisecond)
	// One reading well inside any reasonable default window, one far outside.
	mem.Insert(schema.Reading{
		DeviceID: "device_1", Timestamp: now.Add(-time.Minute),
		SensorType: schema.SensorTemperature, Value: 25,
	})
	mem.Insert(schema.Reading{
		DeviceID: "device_1", Timestamp: now.Add(-24 * time.Hour),
		SensorType: schema.SensorTemperature, Value: 999,
	})

	svc := New(fastQueryConfig(), mem)

	avg, err := svc.AverageOverWindow(context.Background(), "device_1", schema.SensorTemperature, time.Time{})
	if err != nil {
		t.Fatalf("AverageOverWindow: %v", err)
	}
	if avg != 25.0 {
		t.Errorf("avg = %v, want 25.0 (zero since must mean the default window)", avg)
	}
}

func TestService_ListDevicesCaching(t *testing.T) {
	mem := store.NewMemory()
	end := time.Now().Truncate(time.Millisecond)
	seed(t, mem, "device_1", schema.SensorTemperature, end, 20)

	cfg := fastQueryConfig()
	cfg.DevicesRefresh = time.Hour
	svc := New(cfg, mem)

	devices, err := svc.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0] != "device_1" {
		t.Fatalf("got %v, want [device_1]", devices)
	}

	// A device appearing inside the refresh interval is not visible until
	// the next refresh.
	seed(t, mem, "device_2", schema.SensorTemperature, end, 20)
	devices, err = svc.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("snapshot refreshed inside the interval: %v", devices)
	}
}

func TestService_ListDevicesStaleOnFailure(t *testing.T) {
	fs := &faultStore{Memory: store.NewMemory()}
	end := time.Now().Truncate(time.Millisecond)
	seed(t, fs.Memory, "device_1", schema.SensorTemperature, end, 20)

	cfg := fastQueryConfig()
	cfg.DevicesRefresh = 0 // refresh on every call
	cfg.MaxRetries = 1
	svc := New(cfg, fs)

	if _, err := svc.ListDevices(context.Background()); err != nil {
		t.Fatalf("initial ListDevices: %v", err)
	}

	// With a snapshot in hand, a failed refresh serves the stale copy.
	fs.failDevices = 1
	devices, err := svc.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices during outage: %v", err)
	}
	if len(devices) != 1 || devices[0] != "device_1" {
		t.Errorf("stale snapshot not served: %v", devices)
	}
}

func TestService_ListDevicesFirstFailureSurfaces(t *testing.T) {
	fs := &faultStore{Memory: store.NewMemory(), failDevices: 10}

	cfg := fastQueryConfig()
	cfg.MaxRetries = 2
	svc := New(cfg, fs)

	if _, err := svc.ListDevices(context.Background()); err == nil {
		t.Error("expected error when no snapshot exists and the store is down")
	}
}

func TestService_ReadRetries(t *testing.T) {
	fs := &faultStore{Memory: store.NewMemory(), failReads: 2}
	end := time.Now().Truncate(time.Millisecond)
	seed(t, fs.Memory, "device_1", schema.SensorTemperature, end, 20)

	cfg := fastQueryConfig()
	cfg.MaxRetries = 3
	svc := New(cfg, fs)

	got, err := svc.RecentReadings(context.Background(), "device_1", 10)
	if err != nil {
		t.Fatalf("RecentReadings after transient failures: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d readings, want 1", len(got))
	}
	if retries := svc.Stats().Retries; retries != 2 {
		t.Errorf("Retries = %d, want 2", retries)
	}
}

func TestService_ReadRetryBudgetExhausted(t *testing.T) {
	fs := &faultStore{Memory: store.NewMemory(), failReads: 100}

	cfg := fastQueryConfig()
	cfg.MaxRetries = 2
	svc := New(cfg, fs)

	_, err := svc.RecentReadings(context.Background(), "device_1", 10)
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("got %v, want wrapped ErrStoreUnavailable", err)
	}
}

func TestWindowAggregate_Empty(t *testing.T) {
	agg := newWindowAggregate()
	if _, ok := agg.stats("device_1", schema.SensorTemperature, time.Now()); ok {
		t.Error("empty aggregate should not produce stats")
	}
}
