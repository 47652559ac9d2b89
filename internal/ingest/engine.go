// Package ingest implements the ingestion engine: a fleet of simulated
// devices emitting readings on independent randomized intervals, a shared
// write buffer that groups readings into single-partition batches, and a
// flusher that drives them into the store with bounded retry.
//
// Delivery is at-least-once within the retry budget: a batch that
// fails past the attempt ceiling is dropped with a log, and a batch retried
// after partial success re-applies rows idempotently (device_id+timestamp is
// the natural key).
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sensorhub-io/sensorhub/config"
	"github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/logging"
	"github.com/sensorhub-io/sensorhub/internal/schema"
	"github.com/sensorhub-io/sensorhub/internal/store"
)

var log = logging.Component("ingest")

// Config holds the ingestion engine configuration.
type Config struct {
	// DeviceCount is the number of simulated devices. Device ids are
	// device_1 .. device_N.
	DeviceCount int

	// SensorTypes is the set of enabled sensor types. Each cycle a device
	// emits one reading of a randomly chosen enabled type.
	SensorTypes []schema.SensorType

	// IntervalMin and IntervalMax bound the per-device sleep between
	// samples. Each device draws independently, which is the source of
	// realistic jitter and concurrency.
	IntervalMin time.Duration
	IntervalMax time.Duration

	// BatchSize forces a flush when any device group reaches this many
	// buffered readings.
	BatchSize int

	// FlushDelay is the maximum time a buffered reading waits before a
	// flush regardless of batch size.
	FlushDelay time.Duration

	// MaxRetries is the attempt ceiling for a failed batch write.
	MaxRetries int

	// BaseBackoff and MaxBackoff shape the exponential retry backoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// RequestTimeout bounds each store write call.
	RequestTimeout time.Duration
}

// DefaultConfig returns an engine configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DeviceCount:    config.DefaultDeviceCount,
		SensorTypes:    schema.AllSensorTypes(),
		IntervalMin:    config.DefaultIntervalMin,
		IntervalMax:    config.DefaultIntervalMax,
		BatchSize:      config.DefaultBatchSize,
		FlushDelay:     config.DefaultFlushDelay,
		MaxRetries:     config.DefaultWriteMaxRetries,
		BaseBackoff:    config.DefaultRetryBaseBackoff,
		MaxBackoff:     config.DefaultRetryMaxBackoff,
		RequestTimeout: config.DefaultRequestTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DeviceCount <= 0 {
		v.AddField("devices.count", "must be positive")
	}
	if len(c.SensorTypes) == 0 {
		v.AddMissing("devices.sensor_types")
	}
	for _, t := range c.SensorTypes {
		if !t.Valid() {
			v.AddField("devices.sensor_types", "unrecognized type '"+string(t)+"'")
		}
	}
	if c.IntervalMin <= 0 {
		v.AddField("devices.interval_min", "must be positive")
	}
	if c.IntervalMax < c.IntervalMin {
		v.AddField("devices.interval_max", "must be >= interval_min")
	}
	if c.BatchSize <= 0 {
		v.AddField("ingest.batch_size", "must be positive")
	}
	if c.FlushDelay <= 0 {
		v.AddField("ingest.flush_delay", "must be positive")
	}
	if c.MaxRetries < 1 {
		v.AddField("ingest.max_retries", "must be at least 1")
	}

	return v.Err()
}

// Stats holds ingestion statistics.
type Stats struct {
	ReadingsGenerated atomic.Int64
	ReadingsInvalid   atomic.Int64
	BatchesFlushed    atomic.Int64
	ReadingsWritten   atomic.Int64
	WriteRetries      atomic.Int64
	BatchesDropped    atomic.Int64
	ReadingsDropped   atomic.Int64
}

// EngineStats is a point-in-time snapshot of Stats.
type EngineStats struct {
	Running           bool
	Buffered          int
	ReadingsGenerated int64
	ReadingsInvalid   int64
	BatchesFlushed    int64
	ReadingsWritten   int64
	WriteRetries      int64
	BatchesDropped    int64
	ReadingsDropped   int64
}

// Engine drives the simulated device fleet.
type Engine struct {
	cfg   *Config
	store store.Store
	buf   *writeBuffer

	// runID correlates all log lines of one ingestion run.
	runID string

	running atomic.Bool
	cancel  context.CancelFunc
	grp     *errgroup.Group
	flushWg sync.WaitGroup
	flushCh chan struct{}

	stats Stats
}

// New creates an ingestion engine writing to st.
func New(cfg *Config, st store.Store) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		store:   st,
		buf:     newWriteBuffer(),
		flushCh: make(chan struct{}, 1),
	}, nil
}

// Start spawns one producer per device plus the flusher. It returns
// immediately; producers run until Stop or until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.ErrEngineRunning
	}

	e.runID = uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.grp, runCtx = errgroup.WithContext(runCtx)

	for i := 1; i <= e.cfg.DeviceCount; i++ {
		deviceID := fmt.Sprintf("device_%d", i)
		gen := newGenerator(deviceID, e.cfg.SensorTypes, time.Now().UnixNano()+int64(i))
		e.grp.Go(func() error {
			e.produce(runCtx, gen)
			return nil
		})
	}

	e.flushWg.Add(1)
	go e.flushLoop(runCtx)

	log.Info("engine started",
		"run_id", e.runID,
		"devices", e.cfg.DeviceCount,
		"sensor_types", e.cfg.SensorTypes,
		"interval_min", e.cfg.IntervalMin,
		"interval_max", e.cfg.IntervalMax)

	return nil
}

// Stop signals all producers to finish their current cycle, waits for them,
// and drains buffered batches best-effort. After Stop returns no new
// producer cycle begins, though an already-started write may still have
// completed asynchronously through the retry path.
func (e *Engine) Stop() error {
	if !e.running.Load() {
		return errors.ErrEngineStopped
	}

	e.cancel()
	e.grp.Wait()
	e.flushWg.Wait()

	// Final drain of anything the last cycles buffered.
	e.flush()

	e.running.Store(false)

	log.Info("engine stopped",
		"run_id", e.runID,
		"generated", e.stats.ReadingsGenerated.Load(),
		"written", e.stats.ReadingsWritten.Load(),
		"dropped", e.stats.ReadingsDropped.Load())

	return nil
}

// IsRunning reports whether producers are active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Running:           e.running.Load(),
		Buffered:          e.buf.len(),
		ReadingsGenerated: e.stats.ReadingsGenerated.Load(),
		ReadingsInvalid:   e.stats.ReadingsInvalid.Load(),
		BatchesFlushed:    e.stats.BatchesFlushed.Load(),
		ReadingsWritten:   e.stats.ReadingsWritten.Load(),
		WriteRetries:      e.stats.WriteRetries.Load(),
		BatchesDropped:    e.stats.BatchesDropped.Load(),
		ReadingsDropped:   e.stats.ReadingsDropped.Load(),
	}
}

// =============================================================================
// Producers
// =============================================================================

// produce is one device's loop: sleep a random interval, emit one validated
// reading into the buffer, repeat. Cancellation is checked once per cycle,
// never mid-write; producers share nothing but the buffer.
func (e *Engine) produce(ctx context.Context, gen *generator) {
	timer := time.NewTimer(gen.interval(e.cfg.IntervalMin, e.cfg.IntervalMax))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		r := gen.next(time.Now())
		e.stats.ReadingsGenerated.Add(1)

		if err := r.Validate(); err != nil {
			// Never written; the generator should not produce these.
			e.stats.ReadingsInvalid.Add(1)
			log.Warn("invalid reading dropped", "device", gen.deviceID, "error", err)
		} else if e.buf.add(r) >= e.cfg.BatchSize {
			e.signalFlush()
		}

		timer.Reset(gen.interval(e.cfg.IntervalMin, e.cfg.IntervalMax))
	}
}

func (e *Engine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// =============================================================================
// Flusher
// =============================================================================

func (e *Engine) flushLoop(ctx context.Context) {
	defer e.flushWg.Done()

	ticker := time.NewTicker(e.cfg.FlushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		case <-e.flushCh:
			e.flush()
		}
	}
}

// flush snapshots the buffer and writes one batch per device. Writes are
// deliberately detached from the run context so an in-flight batch completes
// or retries to exhaustion even during shutdown.
func (e *Engine) flush() {
	batches := e.buf.takeAll()
	for deviceID, readings := range batches {
		e.writeWithRetry(deviceID, readings)
	}
}

func (e *Engine) writeWithRetry(deviceID string, readings []schema.Reading) {
	backoff := e.cfg.BaseBackoff

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
		err := e.store.WriteBatch(ctx, deviceID, readings)
		cancel()

		if err == nil {
			e.stats.BatchesFlushed.Add(1)
			e.stats.ReadingsWritten.Add(int64(len(readings)))
			return
		}

		if attempt >= e.cfg.MaxRetries {
			// Retry budget exhausted: drop the batch and keep going.
			// One bad batch must not take down the producer fleet.
			e.stats.BatchesDropped.Add(1)
			e.stats.ReadingsDropped.Add(int64(len(readings)))
			log.Error("batch dropped",
				"run_id", e.runID,
				"device", deviceID,
				"readings", len(readings),
				"attempts", attempt,
				"error", err)
			return
		}

		e.stats.WriteRetries.Add(1)
		log.Warn("batch write failed, retrying",
			"device", deviceID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		time.Sleep(backoff)
		backoff *= 2
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}
}
