// Package query implements the read path the dashboard polls: recent
// readings per device, windowed aggregates, and device enumeration.
//
// Queries never scan unbounded history. Windowed scans page through a
// partition newest-first and short-circuit at the window boundary; device
// enumeration works from a cached snapshot refreshed on a bounded interval.
package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sensorhub-io/sensorhub/config"
	"github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/logging"
	"github.com/sensorhub-io/sensorhub/internal/schema"
	"github.com/sensorhub-io/sensorhub/internal/store"
)

var log = logging.Component("query")

// Config holds the query service configuration.
type Config struct {
	// PageSize bounds how many readings one windowed-scan page fetches.
	PageSize int

	// WindowDefault is used when a caller passes a zero `since`.
	WindowDefault time.Duration

	// DevicesRefresh bounds how often the device snapshot is rebuilt.
	DevicesRefresh time.Duration

	// MaxRetries is the attempt ceiling for a failed read before the
	// error is surfaced to the caller.
	MaxRetries int

	// BaseBackoff is the initial delay between read retries.
	BaseBackoff time.Duration

	// RequestTimeout bounds each store read call.
	RequestTimeout time.Duration
}

// DefaultConfig returns a query configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		PageSize:       config.DefaultQueryPageSize,
		WindowDefault:  config.DefaultQueryWindow,
		DevicesRefresh: config.DefaultDevicesRefresh,
		MaxRetries:     config.DefaultReadMaxRetries,
		BaseBackoff:    config.DefaultRetryBaseBackoff,
		RequestTimeout: config.DefaultRequestTimeout,
	}
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	RowsReturned    atomic.Int64
	RowsSkipped     atomic.Int64
	Retries         atomic.Int64
	Errors          atomic.Int64
}

// ServiceStats is a point-in-time snapshot of Stats.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	RowsSkipped     int64
	Retries         int64
	Errors          int64
}

// Service answers the dashboard's read patterns against the store.
type Service struct {
	cfg   *Config
	store store.Store

	// Cached device snapshot. Known devices are derived, never a live
	// registry: the set of distinct partition keys observed at the last
	// refresh.
	mu          sync.Mutex
	devices     []string
	lastRefresh time.Time

	stats Stats
}

// New creates a query service reading from st.
func New(cfg *Config, st store.Store) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:   cfg,
		store: st,
	}
}

// =============================================================================
// Operations
// =============================================================================

// RecentReadings returns up to limit newest readings for a device, descending
// by timestamp. An unknown or empty device yields an empty slice, not an
// error. A non-positive limit is caller misuse.
func (s *Service) RecentReadings(ctx context.Context, deviceID string, limit int) ([]schema.Reading, error) {
	if limit <= 0 {
		return nil, errors.NewInvalidArgument("limit", "must be positive")
	}
	if deviceID == "" {
		return nil, errors.NewInvalidArgument("device_id", "must not be empty")
	}

	rows, err := s.readWithRetry(ctx, store.RangeQuery{
		DeviceID: deviceID,
		Limit:    limit,
	})
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	readings := s.filterValid(rows)

	s.stats.QueriesExecuted.Add(1)
	s.stats.RowsReturned.Add(int64(len(readings)))
	return readings, nil
}

// AverageOverWindow computes the mean value of matching readings with
// timestamp >= since. A zero since defaults to now minus the configured
// window. Zero matches yields errors.ErrNoData, which is distinct from an
// average of 0.0.
func (s *Service) AverageOverWindow(ctx context.Context, deviceID string, sensorType schema.SensorType, since time.Time) (float64, error) {
	agg, err := s.scanWindow(ctx, deviceID, sensorType, since)
	if err != nil {
		return 0, err
	}
	if agg.count == 0 {
		return 0, errors.ErrNoData
	}
	return agg.sum / float64(agg.count), nil
}

// StatsOverWindow computes count/avg/min/max and p50/p95 over the window,
// streaming: the window is paged through, never materialized.
func (s *Service) StatsOverWindow(ctx context.Context, deviceID string, sensorType schema.SensorType, since time.Time) (WindowStats, error) {
	if since.IsZero() {
		since = time.Now().Add(-s.cfg.WindowDefault)
	}

	agg, err := s.scanWindow(ctx, deviceID, sensorType, since)
	if err != nil {
		return WindowStats{}, err
	}

	stats, ok := agg.stats(deviceID, sensorType, since)
	if !ok {
		return WindowStats{}, errors.ErrNoData
	}
	return stats, nil
}

// ListDevices returns the cached set of known device ids, rebuilding the
// snapshot when it is older than the refresh interval. Enumeration costs a
// scan proportional to the number of partitions, so it is never done more
// than once per interval regardless of call rate.
func (s *Service) ListDevices(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRefresh.IsZero() || time.Since(s.lastRefresh) >= s.cfg.DevicesRefresh {
		devices, err := s.listWithRetry(ctx)
		if err != nil {
			s.stats.Errors.Add(1)
			if s.lastRefresh.IsZero() {
				return nil, err
			}
			// A stale snapshot beats no answer; the dashboard shows
			// last-known devices while the store recovers.
			log.Warn("device refresh failed, serving stale snapshot",
				"age", time.Since(s.lastRefresh), "error", err)
		} else {
			s.devices = devices
			s.lastRefresh = time.Now()
		}
	}

	s.stats.QueriesExecuted.Add(1)
	out := make([]string, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		RowsReturned:    s.stats.RowsReturned.Load(),
		RowsSkipped:     s.stats.RowsSkipped.Load(),
		Retries:         s.stats.Retries.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}

// =============================================================================
// Windowed scan
// =============================================================================

// scanWindow pages newest-first through one device's partition, feeding
// matching readings into a streaming aggregate. Readings are time-descending,
// so the scan stops as soon as a reading older than since is seen, bounding
// work by the window rather than by partition history.
func (s *Service) scanWindow(ctx context.Context, deviceID string, sensorType schema.SensorType, since time.Time) (*windowAggregate, error) {
	if deviceID == "" {
		return nil, errors.NewInvalidArgument("device_id", "must not be empty")
	}
	if !sensorType.Valid() {
		return nil, errors.NewInvalidArgument("sensor_type", "unrecognized value '"+string(sensorType)+"'")
	}
	if since.IsZero() {
		since = time.Now().Add(-s.cfg.WindowDefault)
	}

	agg := newWindowAggregate()
	var cursor time.Time

	for {
		page, err := s.readWithRetry(ctx, store.RangeQuery{
			DeviceID:  deviceID,
			Since:     since,
			OlderThan: cursor,
			Limit:     s.cfg.PageSize,
		})
		if err != nil {
			s.stats.Errors.Add(1)
			return nil, err
		}

		boundary := false
		for i := range page {
			r := &page[i]
			if r.Timestamp.Before(since) {
				// Window boundary: everything after this is older.
				boundary = true
				break
			}
			if err := r.Validate(); err != nil {
				s.stats.RowsSkipped.Add(1)
				log.Warn("malformed reading skipped", "device", deviceID, "error", err)
				continue
			}
			if r.SensorType == sensorType {
				agg.add(r.Value)
			}
		}

		if boundary || len(page) < s.cfg.PageSize {
			break
		}
		cursor = page[len(page)-1].Timestamp
	}

	s.stats.QueriesExecuted.Add(1)
	return agg, nil
}

// =============================================================================
// Retry helpers
// =============================================================================

// readWithRetry retries transient store failures with backoff up to the
// configured ceiling, then surfaces the error so the caller can show a
// stale/error state instead of silently wrong data.
func (s *Service) readWithRetry(ctx context.Context, q store.RangeQuery) ([]schema.Reading, error) {
	var lastErr error
	backoff := s.cfg.BaseBackoff

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		rows, err := s.store.ReadRange(callCtx, q)
		cancel()

		if err == nil {
			return rows, nil
		}
		if !errors.IsRetriable(err) {
			return nil, err
		}

		lastErr = err
		if attempt < s.cfg.MaxRetries {
			s.stats.Retries.Add(1)
			select {
			case <-ctx.Done():
				return nil, errors.NewStoreUnavailable("read range", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, errors.Wrap(lastErr, "read retry budget exhausted")
}

func (s *Service) listWithRetry(ctx context.Context) ([]string, error) {
	var lastErr error
	backoff := s.cfg.BaseBackoff

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		devices, err := s.store.Devices(callCtx)
		cancel()

		if err == nil {
			return devices, nil
		}
		if !errors.IsRetriable(err) {
			return nil, err
		}

		lastErr = err
		if attempt < s.cfg.MaxRetries {
			s.stats.Retries.Add(1)
			select {
			case <-ctx.Done():
				return nil, errors.NewStoreUnavailable("list devices", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, errors.Wrap(lastErr, "read retry budget exhausted")
}

// filterValid drops rows that fail schema validation, with a warning per
// row. A partially readable partition still answers the query.
func (s *Service) filterValid(rows []schema.Reading) []schema.Reading {
	readings := rows[:0]
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			s.stats.RowsSkipped.Add(1)
			log.Warn("malformed reading skipped",
				"device", rows[i].DeviceID, "error", err)
			continue
		}
		readings = append(readings, rows[i])
	}
	return readings
}
