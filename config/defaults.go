// Package config provides configuration defaults and utilities
// for the sensorhub application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Device Simulation Defaults
// =============================================================================

const (
	// DefaultDeviceCount is the number of simulated devices.
	// Override via config: devices.count
	DefaultDeviceCount = 3

	// DefaultIntervalMin is the minimum delay between samples per device.
	// Override via config: devices.interval_min
	DefaultIntervalMin = 1 * time.Second

	// DefaultIntervalMax is the maximum delay between samples per device.
	// Each device sleeps a uniformly random duration in [min, max] between
	// samples, independent of every other device.
	// Override via config: devices.interval_max
	DefaultIntervalMax = 5 * time.Second
)

// =============================================================================
// Write Path Defaults
// =============================================================================

const (
	// DefaultBatchSize is the number of buffered readings per device that
	// forces a flush. Batches never mix partitions.
	// Override via config: ingest.batch_size
	DefaultBatchSize = 25

	// DefaultFlushDelay is the maximum time a buffered reading waits
	// before being flushed, regardless of batch size.
	// Override via config: ingest.flush_delay
	DefaultFlushDelay = 2 * time.Second

	// DefaultWriteMaxRetries is the attempt ceiling for a failed batch
	// write. After this many attempts the batch is dropped with a log.
	// Override via config: ingest.max_retries
	DefaultWriteMaxRetries = 5

	// DefaultRetryBaseBackoff is the initial backoff after a failed write.
	// Backoff doubles per attempt up to DefaultRetryMaxBackoff.
	DefaultRetryBaseBackoff = 200 * time.Millisecond

	// DefaultRetryMaxBackoff caps the exponential backoff.
	DefaultRetryMaxBackoff = 10 * time.Second
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultStorePort is the CQL native protocol port.
	// Override via config: store.port
	DefaultStorePort = 9042

	// DefaultKeyspace is the keyspace holding the readings table.
	// Override via config: store.keyspace
	DefaultKeyspace = "iot_data"

	// DefaultTable is the readings table name.
	// Override via config: store.table
	DefaultTable = "sensor_readings"

	// DefaultRequestTimeout bounds every store call. Exceeding it is a
	// transient failure under the normal retry policy.
	// Override via config: store.timeout
	DefaultRequestTimeout = 5 * time.Second

	// DefaultPoolSize is the number of connections per store host.
	// Override via config: store.pool_size
	DefaultPoolSize = 2
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryWindow is the aggregate window when the caller does not
	// supply one.
	// Override via config: query.window_default
	DefaultQueryWindow = 15 * time.Minute

	// DefaultQueryPageSize is how many readings a windowed scan fetches
	// per page. The scan short-circuits at the window boundary, so this
	// bounds materialization, not correctness.
	// Override via config: query.page_size
	DefaultQueryPageSize = 500

	// DefaultDevicesRefresh is how often the cached device snapshot is
	// rebuilt. Enumerating distinct partitions is a full-scan class
	// operation and is never done per call.
	// Override via config: query.devices_refresh
	DefaultDevicesRefresh = 30 * time.Second

	// DefaultReadMaxRetries is the attempt ceiling for a failed read
	// before the error is surfaced to the caller.
	// Override via config: query.max_retries
	DefaultReadMaxRetries = 3
)
