package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/sensorhub-io/sensorhub/config"
	apperrors "github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/logging"
	"github.com/sensorhub-io/sensorhub/internal/schema"
)

var log = logging.Component("store")

// CassandraConfig holds the connection parameters for the Cassandra gateway.
type CassandraConfig struct {
	Hosts       []string
	Port        int
	Keyspace    string
	Table       string
	Username    string
	Password    string
	Consistency string

	// Timeout bounds every request. Exceeding it is a transient failure
	// under the normal retry policy, not a distinct error class.
	Timeout time.Duration

	// PoolSize is the number of connections per host.
	PoolSize int
}

// DefaultCassandraConfig returns a config with documented defaults applied.
func DefaultCassandraConfig() CassandraConfig {
	return CassandraConfig{
		Hosts:       []string{"localhost"},
		Port:        config.DefaultStorePort,
		Keyspace:    config.DefaultKeyspace,
		Table:       config.DefaultTable,
		Consistency: "quorum",
		Timeout:     config.DefaultRequestTimeout,
		PoolSize:    config.DefaultPoolSize,
	}
}

// Cassandra is the production store gateway. It owns a pooled gocql session
// shared by the ingestion and query engines, and the insert statement built
// once at construction and reused for every write (gocql prepares it
// server-side and caches the prepared id).
type Cassandra struct {
	session *gocql.Session

	insertCQL      string
	selectCQL      string
	selectDistinct string
}

// NewCassandra connects to the cluster and builds the reusable statements.
func NewCassandra(cfg CassandraConfig) (*Cassandra, error) {
	if len(cfg.Hosts) == 0 {
		return nil, apperrors.NewMissingField("store.hosts")
	}
	if cfg.Keyspace == "" {
		return nil, apperrors.NewMissingField("store.keyspace")
	}
	if cfg.Table == "" {
		return nil, apperrors.NewMissingField("store.table")
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.NumConns = cfg.PoolSize

	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, apperrors.NewValidation("store.consistency", err.Error())
	}
	cluster.Consistency = consistency

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("connect", err)
	}

	table := cfg.Keyspace + "." + cfg.Table

	c := &Cassandra{
		session: session,
		insertCQL: fmt.Sprintf(
			"INSERT INTO %s (device_id, timestamp, sensor_type, sensor_value) VALUES (?, ?, ?, ?)",
			table),
		selectCQL: fmt.Sprintf(
			"SELECT timestamp, sensor_type, sensor_value FROM %s WHERE device_id = ?",
			table),
		selectDistinct: fmt.Sprintf(
			"SELECT DISTINCT device_id FROM %s", table),
	}

	log.Info("connected to store",
		"hosts", cfg.Hosts, "keyspace", cfg.Keyspace, "table", cfg.Table,
		"consistency", cfg.Consistency, "pool_size", cfg.PoolSize)

	return c, nil
}

// Close shuts down the session pool.
func (c *Cassandra) Close() error {
	c.session.Close()
	return nil
}

// WriteBatch writes a single-partition logged batch. Timestamps are stored
// at millisecond precision, matching the table's timestamp column; a retried
// batch re-applies the same rows and leaves the partition unchanged.
func (c *Cassandra) WriteBatch(ctx context.Context, deviceID string, readings []schema.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for i := range readings {
		r := &readings[i]
		batch.Query(c.insertCQL, deviceID, r.Timestamp.UnixMilli(), string(r.SensorType), r.Value)
	}

	if err := c.session.ExecuteBatch(batch); err != nil {
		return mapStoreError("write batch", err)
	}
	return nil
}

// ReadRange reads one device's readings newest-first within the query bounds.
// The clustering order on the table (timestamp DESC) makes this a single
// in-order partition scan; no client-side sort is needed.
func (c *Cassandra) ReadRange(ctx context.Context, q RangeQuery) ([]schema.Reading, error) {
	if q.Limit <= 0 {
		return nil, apperrors.NewInvalidArgument("limit", "must be positive")
	}

	cql := c.selectCQL
	args := []interface{}{q.DeviceID}

	if !q.Since.IsZero() {
		cql += " AND timestamp >= ?"
		args = append(args, q.Since.UnixMilli())
	}
	if !q.OlderThan.IsZero() {
		cql += " AND timestamp < ?"
		args = append(args, q.OlderThan.UnixMilli())
	}
	cql += " LIMIT ?"
	args = append(args, q.Limit)

	iter := c.session.Query(cql, args...).WithContext(ctx).Iter()

	var (
		readings   []schema.Reading
		ts         time.Time
		sensorType string
		value      float64
	)
	for iter.Scan(&ts, &sensorType, &value) {
		readings = append(readings, schema.Reading{
			DeviceID:   q.DeviceID,
			Timestamp:  ts,
			SensorType: schema.SensorType(sensorType),
			Value:      value,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, mapStoreError("read range", err)
	}

	return readings, nil
}

// Devices enumerates distinct partition keys. This scans partition heads
// across the whole table; callers are expected to cache the snapshot.
func (c *Cassandra) Devices(ctx context.Context) ([]string, error) {
	iter := c.session.Query(c.selectDistinct).WithContext(ctx).Iter()

	var (
		devices []string
		id      string
	)
	for iter.Scan(&id) {
		devices = append(devices, id)
	}
	if err := iter.Close(); err != nil {
		return nil, mapStoreError("list devices", err)
	}

	return devices, nil
}

// mapStoreError maps driver failures onto the engine taxonomy. Timeouts and
// connectivity failures are both transient; they differ only in logging.
func mapStoreError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, gocql.ErrConnectionClosed) {
		return fmt.Errorf("%s: %v: %w", op, err, apperrors.ErrTimeout)
	}
	return apperrors.NewStoreUnavailable(op, err)
}
