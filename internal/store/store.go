// Package store provides access to the time-series store the engines write
// to and read from.
//
// The store is treated as an opaque, already-provisioned dependency: the
// engine never issues DDL (see schema.cql for the external setup step). Two
// implementations exist: Cassandra, the production gateway backed by gocql,
// and Memory, a mutex-guarded in-process store used by tests and local runs.
// Both honor the same contract:
//
//   - writes are grouped by partition key (device) and are idempotent on the
//     natural key device_id+timestamp
//   - range reads within a partition enumerate timestamp-descending
//   - device enumeration is a full-scan class operation
package store

import (
	"context"
	"time"

	"github.com/sensorhub-io/sensorhub/internal/schema"
)

// RangeQuery bounds a single-partition read.
type RangeQuery struct {
	// DeviceID is the partition key. Required.
	DeviceID string

	// Since, when set, excludes readings older than this instant
	// (timestamp >= Since).
	Since time.Time

	// OlderThan, when set, excludes readings at or after this instant
	// (timestamp < OlderThan). Paged scans use it as the page cursor.
	OlderThan time.Time

	// Limit caps the number of readings returned. Required, > 0.
	Limit int
}

// Store is the gateway to the time-series store.
type Store interface {
	// WriteBatch durably writes a single-partition batch. All readings
	// must share one device. Re-delivery of the same readings is
	// idempotent.
	WriteBatch(ctx context.Context, deviceID string, readings []schema.Reading) error

	// ReadRange returns readings for one device, newest first, within the
	// query bounds.
	ReadRange(ctx context.Context, q RangeQuery) ([]schema.Reading, error)

	// Devices enumerates the distinct partition keys observed. This can
	// require a scan proportional to the number of partitions; callers
	// cache the result rather than calling it per request.
	Devices(ctx context.Context) ([]string, error)

	// Close releases the underlying connections.
	Close() error
}
