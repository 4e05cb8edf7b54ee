// Package metrics defines the single recording hook the storage core
// exposes. Transport/alerting is out of scope for this package; it
// only turns events (query counts, error counts, durations, per-table
// access counts) into OpenTelemetry instruments that a host process may
// wire to whatever exporter it likes.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the one hook the engine calls into. A no-op Recorder is
// used when the host process doesn't care about metrics.
type Recorder interface {
	RecordWrite(table string, elapsed time.Duration, ok bool)
	RecordQuery(table string, elapsed time.Duration, ok bool)
	RecordConflict(table string)
	RecordLockWait(table string, elapsed time.Duration)
	RecordIndexHit(table, column string)
	RecordIndexMiss(table, column string)
}

// otelRecorder backs Recorder with counters/histograms from a
// metric.Meter. No exporter is configured here, that wiring belongs to
// the host process (CLI, service), matching the "single recording hook"
// non-goal.
type otelRecorder struct {
	writes      metric.Int64Counter
	writeErrors metric.Int64Counter
	queries     metric.Int64Counter
	queryErrors metric.Int64Counter
	conflicts   metric.Int64Counter
	indexHits   metric.Int64Counter
	indexMisses metric.Int64Counter
	writeDur    metric.Float64Histogram
	queryDur    metric.Float64Histogram
	lockWaitDur metric.Float64Histogram
}

// New builds a Recorder backed by instruments from meter. Pass
// otel.GetMeterProvider().Meter("reedbase") for a real deployment, or
// noop.NewMeterProvider().Meter("") in tests.
func New(meter metric.Meter) (Recorder, error) {
	r := &otelRecorder{}
	var err error
	if r.writes, err = meter.Int64Counter("reedbase.writes"); err != nil {
		return nil, err
	}
	if r.writeErrors, err = meter.Int64Counter("reedbase.write_errors"); err != nil {
		return nil, err
	}
	if r.queries, err = meter.Int64Counter("reedbase.queries"); err != nil {
		return nil, err
	}
	if r.queryErrors, err = meter.Int64Counter("reedbase.query_errors"); err != nil {
		return nil, err
	}
	if r.conflicts, err = meter.Int64Counter("reedbase.conflicts"); err != nil {
		return nil, err
	}
	if r.indexHits, err = meter.Int64Counter("reedbase.index_hits"); err != nil {
		return nil, err
	}
	if r.indexMisses, err = meter.Int64Counter("reedbase.index_misses"); err != nil {
		return nil, err
	}
	if r.writeDur, err = meter.Float64Histogram("reedbase.write_duration_seconds"); err != nil {
		return nil, err
	}
	if r.queryDur, err = meter.Float64Histogram("reedbase.query_duration_seconds"); err != nil {
		return nil, err
	}
	if r.lockWaitDur, err = meter.Float64Histogram("reedbase.lock_wait_seconds"); err != nil {
		return nil, err
	}
	return r, nil
}

func attrTable(table string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("table", table))
}

func (r *otelRecorder) RecordWrite(table string, elapsed time.Duration, ok bool) {
	ctx := context.Background()
	r.writes.Add(ctx, 1, attrTable(table))
	if !ok {
		r.writeErrors.Add(ctx, 1, attrTable(table))
	}
	r.writeDur.Record(ctx, elapsed.Seconds(), attrTable(table))
}

func (r *otelRecorder) RecordQuery(table string, elapsed time.Duration, ok bool) {
	ctx := context.Background()
	r.queries.Add(ctx, 1, attrTable(table))
	if !ok {
		r.queryErrors.Add(ctx, 1, attrTable(table))
	}
	r.queryDur.Record(ctx, elapsed.Seconds(), attrTable(table))
}

func (r *otelRecorder) RecordConflict(table string) {
	r.conflicts.Add(context.Background(), 1, attrTable(table))
}

func (r *otelRecorder) RecordLockWait(table string, elapsed time.Duration) {
	r.lockWaitDur.Record(context.Background(), elapsed.Seconds(), attrTable(table))
}

func (r *otelRecorder) RecordIndexHit(table, column string) {
	r.indexHits.Add(context.Background(), 1, attrTable(table+"."+column))
}

func (r *otelRecorder) RecordIndexMiss(table, column string) {
	r.indexMisses.Add(context.Background(), 1, attrTable(table+"."+column))
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) RecordWrite(string, time.Duration, bool)   {}
func (Noop) RecordQuery(string, time.Duration, bool)   {}
func (Noop) RecordConflict(string)                     {}
func (Noop) RecordLockWait(string, time.Duration)      {}
func (Noop) RecordIndexHit(string, string)             {}
func (Noop) RecordIndexMiss(string, string)            {}

// Counting is a Recorder usable in tests that tallies calls atomically.
type Counting struct {
	Writes, Queries, Conflicts, IndexHits, IndexMisses int64
}

func (c *Counting) RecordWrite(string, time.Duration, bool) { atomic.AddInt64(&c.Writes, 1) }
func (c *Counting) RecordQuery(string, time.Duration, bool) { atomic.AddInt64(&c.Queries, 1) }
func (c *Counting) RecordConflict(string)                   { atomic.AddInt64(&c.Conflicts, 1) }
func (c *Counting) RecordLockWait(string, time.Duration)    {}
func (c *Counting) RecordIndexHit(string, string)           { atomic.AddInt64(&c.IndexHits, 1) }
func (c *Counting) RecordIndexMiss(string, string)          { atomic.AddInt64(&c.IndexMisses, 1) }
