package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersStartAtZero(t *testing.T) {
	c := NewCollector()
	m := c.Snapshot()

	assert.Zero(t, c.TotalOrdersPlaced())
	assert.Zero(t, c.TotalErrors())
	assert.Zero(t, m.Throughput)
	assert.Zero(t, m.ErrorRate)
	assert.Zero(t, m.ConnCount)
}

func TestCounterIncrements(t *testing.T) {
	c := NewCollector()

	c.RecordOrderPlaced()
	c.RecordOrderPlaced()
	c.RecordOrderCancelled()
	c.RecordError()
	c.RecordConnection()
	c.RecordConnection()
	c.RecordDisconnection()

	assert.Equal(t, int64(2), c.TotalOrdersPlaced())
	assert.Equal(t, int64(1), c.TotalOrdersCancelled())
	assert.Equal(t, int64(1), c.TotalErrors())
	assert.Equal(t, int32(1), c.ActiveConnections())
}

func TestErrorRateDerivation(t *testing.T) {
	c := NewCollector()

	c.RecordOrderPlaced()
	c.RecordOrderPlaced()
	c.RecordOrderPlaced()
	c.RecordOrderCancelled()
	c.RecordError()

	m := c.Snapshot()
	assert.InDelta(t, 0.25, m.ErrorRate, 1e-9)
}

func TestErrorRateZeroWithoutOperations(t *testing.T) {
	c := NewCollector()
	c.RecordError()

	m := c.Snapshot()
	assert.Zero(t, m.ErrorRate)
}

func TestThroughputUsesUptime(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 10; i++ {
		c.RecordOrderPlaced()
	}

	m := c.Snapshot()
	assert.Greater(t, m.Throughput, 0.0)
}

func TestLatencyBaselineWithoutSamples(t *testing.T) {
	c := NewCollector()
	m := c.Snapshot()
	assert.Equal(t, baselineLatencyMs, m.LatencyMs)
}

func TestLatencyAverageFromSamples(t *testing.T) {
	c := NewCollector()
	c.ObserveLatency(10)
	c.ObserveLatency(20)
	c.ObserveLatency(30)

	m := c.Snapshot()
	assert.InDelta(t, 20.0, m.LatencyMs, 1e-9)
}

func TestSnapshotTimestampSet(t *testing.T) {
	c := NewCollector()
	m := c.Snapshot()
	assert.Greater(t, m.Ts, int64(0))
}

// -----------------------------------------------------------------------------

func TestLatencyRingWrapsAround(t *testing.T) {
	rb := newLatencyRing(4)
	for i := 1; i <= 6; i++ {
		rb.Append(float64(i))
	}

	// Only the newest four samples (3,4,5,6) remain
	require.Equal(t, 4, rb.Size())
	avg, ok := rb.Average()
	require.True(t, ok)
	assert.InDelta(t, 4.5, avg, 1e-9)
}

func TestLatencyRingEmptyAverage(t *testing.T) {
	rb := newLatencyRing(4)
	_, ok := rb.Average()
	assert.False(t, ok)
}
