package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/schema"
)

// Memory is an in-process Store used by tests and local runs. It mirrors the
// Cassandra contract: rows are keyed by device and millisecond timestamp, so
// re-applying a reading overwrites the identical row (idempotent), and range
// reads enumerate timestamp-descending.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	// partitions maps device -> timestamp(ms) -> reading.
	partitions map[string]map[int64]schema.Reading

	// failNext makes the next N writes fail. Test hook for the retry path.
	failNext int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		partitions: make(map[string]map[int64]schema.Reading),
	}
}

// FailNextWrites makes the next n WriteBatch calls fail with a transient
// store error.
func (m *Memory) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// WriteBatch stores a single-partition batch.
func (m *Memory) WriteBatch(ctx context.Context, deviceID string, readings []schema.Reading) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailable("write batch", err)
	}
	if len(readings) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return apperrors.NewStoreUnavailable("write batch", apperrors.ErrTimeout)
	}

	part := m.partitions[deviceID]
	if part == nil {
		part = make(map[int64]schema.Reading)
		m.partitions[deviceID] = part
	}
	for _, r := range readings {
		r.DeviceID = deviceID
		part[r.Timestamp.UnixMilli()] = r
	}
	return nil
}

// ReadRange returns one device's readings newest-first within the bounds.
func (m *Memory) ReadRange(ctx context.Context, q RangeQuery) ([]schema.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable("read range", err)
	}
	if q.Limit <= 0 {
		return nil, apperrors.NewInvalidArgument("limit", "must be positive")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	part := m.partitions[q.DeviceID]
	if len(part) == 0 {
		return nil, nil
	}

	sinceMs := int64(0)
	if !q.Since.IsZero() {
		sinceMs = q.Since.UnixMilli()
	}
	var beforeMs int64
	if !q.OlderThan.IsZero() {
		beforeMs = q.OlderThan.UnixMilli()
	}

	keys := make([]int64, 0, len(part))
	for ts := range part {
		if ts < sinceMs {
			continue
		}
		if beforeMs != 0 && ts >= beforeMs {
			continue
		}
		keys = append(keys, ts)
	}

	// Newest first, per the clustering contract.
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	if len(keys) > q.Limit {
		keys = keys[:q.Limit]
	}

	readings := make([]schema.Reading, 0, len(keys))
	for _, ts := range keys {
		readings = append(readings, part[ts])
	}
	return readings, nil
}

// Devices enumerates distinct partition keys.
func (m *Memory) Devices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable("list devices", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]string, 0, len(m.partitions))
	for id, part := range m.partitions {
		if len(part) == 0 {
			continue
		}
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Len returns the total number of stored readings. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, part := range m.partitions {
		n += len(part)
	}
	return n
}

// Insert stores a single reading directly, bypassing batching. Test helper.
func (m *Memory) Insert(r schema.Reading) {
	m.WriteBatch(context.Background(), r.DeviceID, []schema.Reading{r})
}

// compile-time interface checks
var (
	_ Store = (*Memory)(nil)
	_ Store = (*Cassandra)(nil)
)
