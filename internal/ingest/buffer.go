package ingest

import (
	"sync"

	"github.com/sensorhub-io/sensorhub/internal/schema"
)

// writeBuffer accumulates readings between flushes. It is the only shared
// mutable structure among producers, so all access is serialized by a single
// mutex and a flush takes a consistent snapshot by exchange-and-clear.
//
// Readings are grouped by device as they arrive: a flush emits one
// single-partition batch per device, never a mixed-partition batch.
type writeBuffer struct {
	mu      sync.Mutex
	pending map[string][]schema.Reading
	count   int
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		pending: make(map[string][]schema.Reading),
	}
}

// add appends a reading to its device group and reports the group's new size
// so the caller can decide whether a flush is due.
func (b *writeBuffer) add(r schema.Reading) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[r.DeviceID] = append(b.pending[r.DeviceID], r)
	b.count++
	return len(b.pending[r.DeviceID])
}

// takeAll removes and returns every pending group. The returned map is
// exclusively owned by the caller.
func (b *writeBuffer) takeAll() map[string][]schema.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	taken := b.pending
	b.pending = make(map[string][]schema.Reading)
	b.count = 0
	return taken
}

// len returns the total number of buffered readings.
func (b *writeBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
