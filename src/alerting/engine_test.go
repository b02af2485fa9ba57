package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/src/models"
)

func snapshot() models.MMetrics {
	return models.MMetrics{Ts: 1700000000000, LatencyMs: 5, Throughput: 1.0, ErrorRate: 0, ConnCount: 10}
}

func rule(id, key, op string, threshold float64) models.MAlertRule {
	return models.MAlertRule{RuleID: id, MetricKey: key, Operator: op, Threshold: threshold, Enabled: true}
}

// -----------------------------------------------------------------------------

func TestRuleFiresWhenConditionHolds(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 1))

	events := e.Evaluate(snapshot())
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RuleID)
	assert.Equal(t, 5.0, events[0].Value)
	assert.NotEmpty(t, events[0].EventID)
	assert.Equal(t, int64(1700000000000), events[0].Ts)
}

func TestRuleSilentWhenConditionFails(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 100))

	assert.Empty(t, e.Evaluate(snapshot()))
}

func TestEveryOperator(t *testing.T) {
	m := snapshot()

	cases := []struct {
		op        string
		threshold float64
		fires     bool
	}{
		{">", 4, true},
		{">", 5, false},
		{">=", 5, true},
		{"<", 6, true},
		{"<", 5, false},
		{"<=", 5, true},
		{"==", 5, true},
		{"==", 4, false},
	}

	for _, tc := range cases {
		e := NewEngine()
		e.RegisterRule(rule("r", models.MetricLatencyMs, tc.op, tc.threshold))
		events := e.Evaluate(m)
		assert.Equal(t, tc.fires, len(events) == 1, "latency 5 %s %g", tc.op, tc.threshold)
	}
}

func TestOneEventPerEvaluationCycle(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 1))

	first := e.Evaluate(snapshot())
	second := e.Evaluate(snapshot())
	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	assert.NotEqual(t, first[0].EventID, second[0].EventID)
}

func TestDisabledRuleDoesNotFire(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 1))

	require.True(t, e.DisableRule("r1"))
	assert.Empty(t, e.Evaluate(snapshot()))

	// Disabled, not deleted
	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
}

func TestDisableUnknownRule(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.DisableRule("nope"))
}

func TestRegisterReplacesRule(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 100))
	e.RegisterRule(rule("r1", models.MetricLatencyMs, ">", 1))

	events := e.Evaluate(snapshot())
	assert.Len(t, events, 1)
}

func TestUnknownMetricKeySkipped(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("r1", "nonsense", ">", 0))
	assert.Empty(t, e.Evaluate(snapshot()))
}

func TestConnCountRule(t *testing.T) {
	e := NewEngine()
	e.RegisterRule(rule("conns", models.MetricConnCount, ">=", 10))

	events := e.Evaluate(snapshot())
	require.Len(t, events, 1)
	assert.Equal(t, 10.0, events[0].Value)
}

// -----------------------------------------------------------------------------

func TestBuiltinStatusAllOk(t *testing.T) {
	e := NewEngine()
	status := e.BuiltinStatus(snapshot(), 30)

	for _, key := range []string{"high_latency", "error_rate", "connection_count", "high_throughput"} {
		require.Contains(t, status, key)
		assert.Equal(t, "ok", status[key].Status, key)
	}
}

func TestBuiltinHighLatencyFires(t *testing.T) {
	e := NewEngine()
	m := snapshot()
	m.LatencyMs = 150

	status := e.BuiltinStatus(m, 30)
	assert.Equal(t, "alert", status["high_latency"].Status)
	assert.Contains(t, status["high_latency"].Message, "High latency")
}

func TestBuiltinErrorRateFires(t *testing.T) {
	e := NewEngine()
	m := snapshot()
	m.ErrorRate = 0.5

	status := e.BuiltinStatus(m, 30)
	assert.Equal(t, "alert", status["error_rate"].Status)
}

func TestBuiltinHighThroughputFires(t *testing.T) {
	e := NewEngine()
	m := snapshot()
	m.Throughput = 3.0

	status := e.BuiltinStatus(m, 30)
	assert.Equal(t, "alert", status["high_throughput"].Status)
}

func TestBuiltinLowThroughputWarnsOnlyAfterWarmup(t *testing.T) {
	e := NewEngine()
	m := snapshot()
	m.Throughput = 0.1

	early := e.BuiltinStatus(m, 30)
	assert.Equal(t, "ok", early["low_throughput"].Status)

	late := e.BuiltinStatus(m, 120)
	assert.Equal(t, "warning", late["low_throughput"].Status)
}

func TestValidOperator(t *testing.T) {
	for _, op := range []string{">", ">=", "<", "<=", "=="} {
		assert.True(t, ValidOperator(op))
	}
	assert.False(t, ValidOperator("!="))
	assert.False(t, ValidOperator(""))
}
