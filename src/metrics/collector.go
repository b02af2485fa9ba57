package metrics

import (
	"sync/atomic"
	"time"

	"trading-gateway/src/models"
)

// baselineLatencyMs is reported while no requests have been sampled yet.
const baselineLatencyMs = 0.5

// -----------------------------------------------------------------------------
// Collector holds the process-wide counters and derives snapshots from them.
// Counters only ever move through atomic adds; the latency estimate comes
// from a ring of recent request latencies.
// -----------------------------------------------------------------------------

type Collector struct {
	totalOrdersPlaced    atomic.Int64
	totalOrdersCancelled atomic.Int64
	totalErrors          atomic.Int64
	activeConnections    atomic.Int32

	startTime time.Time
	latencies *latencyRing
}

// -----------------------------------------------------------------------------

func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		latencies: newLatencyRing(1024),
	}
}

// -----------------------------------------------------------------------------

func (c *Collector) RecordOrderPlaced()    { c.totalOrdersPlaced.Add(1) }
func (c *Collector) RecordOrderCancelled() { c.totalOrdersCancelled.Add(1) }
func (c *Collector) RecordError()          { c.totalErrors.Add(1) }
func (c *Collector) RecordConnection()     { c.activeConnections.Add(1) }
func (c *Collector) RecordDisconnection()  { c.activeConnections.Add(-1) }

// -----------------------------------------------------------------------------

// ObserveLatency records one request round trip in milliseconds.
func (c *Collector) ObserveLatency(ms float64) {
	c.latencies.Append(ms)
}

// -----------------------------------------------------------------------------

func (c *Collector) TotalOrdersPlaced() int64    { return c.totalOrdersPlaced.Load() }
func (c *Collector) TotalOrdersCancelled() int64 { return c.totalOrdersCancelled.Load() }
func (c *Collector) TotalErrors() int64          { return c.totalErrors.Load() }
func (c *Collector) ActiveConnections() int32    { return c.activeConnections.Load() }

// -----------------------------------------------------------------------------

// UptimeMs returns the monotonic process uptime in milliseconds.
func (c *Collector) UptimeMs() int64 {
	return time.Since(c.startTime).Milliseconds()
}

// -----------------------------------------------------------------------------

// Snapshot derives the current metrics:
//
//	throughput = ordersPlaced / uptimeSeconds   (0 when uptime is 0)
//	errorRate  = errors / (placed + cancelled)  (0 when the denominator is 0)
//	latencyMs  = mean of recent samples, or the baseline when none exist
func (c *Collector) Snapshot() models.MMetrics {
	placed := c.totalOrdersPlaced.Load()
	cancelled := c.totalOrdersCancelled.Load()
	errs := c.totalErrors.Load()

	uptimeSeconds := time.Since(c.startTime).Seconds()
	var throughput float64
	if uptimeSeconds > 0 {
		throughput = float64(placed) / uptimeSeconds
	}

	var errorRate float64
	if ops := placed + cancelled; ops > 0 {
		errorRate = float64(errs) / float64(ops)
	}

	latency, ok := c.latencies.Average()
	if !ok {
		latency = baselineLatencyMs
	}

	return models.MMetrics{
		Ts:         time.Now().UnixMilli(),
		LatencyMs:  latency,
		Throughput: throughput,
		ErrorRate:  errorRate,
		ConnCount:  c.activeConnections.Load(),
	}
}
