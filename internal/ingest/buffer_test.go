package ingest

import (
	"testing"
	"time"

	"github.com/sensorhub-io/sensorhub/internal/schema"
)

func TestWriteBuffer_GroupsByDevice(t *testing.T) {
	buf := newWriteBuffer()
	now := time.Now()

	for i := 0; i < 3; i++ {
		buf.add(schema.Reading{DeviceID: "device_1", Timestamp: now.Add(time.Duration(i) * time.Millisecond)})
	}
	n := buf.add(schema.Reading{DeviceID: "device_2", Timestamp: now})

	if n != 1 {
		t.Errorf("add returned group size %d for device_2, want 1", n)
	}
	if got := buf.len(); got != 4 {
		t.Errorf("buffered %d readings, want 4", got)
	}

	taken := buf.takeAll()
	if len(taken) != 2 {
		t.Fatalf("takeAll returned %d groups, want 2", len(taken))
	}
	if len(taken["device_1"]) != 3 || len(taken["device_2"]) != 1 {
		t.Errorf("group sizes %d/%d, want 3/1", len(taken["device_1"]), len(taken["device_2"]))
	}
}

func TestWriteBuffer_AddReportsGroupSize(t *testing.T) {
	buf := newWriteBuffer()
	now := time.Now()

	for i := 1; i <= 5; i++ {
		n := buf.add(schema.Reading{DeviceID: "device_1", Timestamp: now.Add(time.Duration(i) * time.Millisecond)})
		if n != i {
			t.Fatalf("add %d returned %d", i, n)
		}
	}
}

func TestWriteBuffer_TakeAllClears(t *testing.T) {
	buf := newWriteBuffer()
	buf.add(schema.Reading{DeviceID: "device_1", Timestamp: time.Now()})

	first := buf.takeAll()
	if first == nil {
		t.Fatal("takeAll returned nil for a non-empty buffer")
	}
	if buf.len() != 0 {
		t.Errorf("buffer not empty after takeAll: %d", buf.len())
	}
	if second := buf.takeAll(); second != nil {
		t.Errorf("takeAll on empty buffer returned %v, want nil", second)
	}

	// The taken map is caller-owned; later adds must not show up in it.
	buf.add(schema.Reading{DeviceID: "device_1", Timestamp: time.Now()})
	if len(first["device_1"]) != 1 {
		t.Errorf("taken snapshot mutated by later add")
	}
}
