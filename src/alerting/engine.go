package alerting

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"trading-gateway/src/models"
)

// Built-in alert thresholds.
const (
	HighLatencyThresholdMs  = 100.0
	ErrorRateThreshold      = 0.01
	ConnectionThreshold     = 1000
	HighThroughputThreshold = 2.0
	LowThroughputThreshold  = 10.0
)

// -----------------------------------------------------------------------------
// Engine stores alert rules and evaluates them against metric snapshots.
// Registration and disabling take the write lock; evaluation works on a read
// snapshot so rule churn never blocks the hot path for long.
// -----------------------------------------------------------------------------

type Engine struct {
	mu    sync.RWMutex
	rules map[string]models.MAlertRule
}

// -----------------------------------------------------------------------------

func NewEngine() *Engine {
	return &Engine{rules: make(map[string]models.MAlertRule)}
}

// -----------------------------------------------------------------------------

// RegisterRule inserts or replaces the rule.
func (e *Engine) RegisterRule(rule models.MAlertRule) {
	e.mu.Lock()
	e.rules[rule.RuleID] = rule
	e.mu.Unlock()
}

// -----------------------------------------------------------------------------

// DisableRule flips enabled off while preserving the rule for history.
func (e *Engine) DisableRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	if !ok {
		return false
	}
	rule.Enabled = false
	e.rules[ruleID] = rule
	return true
}

// -----------------------------------------------------------------------------

// Rules returns a copy of every stored rule.
func (e *Engine) Rules() []models.MAlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.MAlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// -----------------------------------------------------------------------------

// Evaluate runs every enabled rule against the snapshot and returns one event
// per firing rule.
func (e *Engine) Evaluate(m models.MMetrics) []models.MAlertEvent {
	e.mu.RLock()
	snapshot := make([]models.MAlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			snapshot = append(snapshot, r)
		}
	}
	e.mu.RUnlock()

	var events []models.MAlertEvent
	for _, rule := range snapshot {
		value, ok := metricValue(rule.MetricKey, m)
		if !ok {
			continue
		}
		if !compare(value, rule.Operator, rule.Threshold) {
			continue
		}
		events = append(events, models.MAlertEvent{
			EventID: uuid.NewString(),
			RuleID:  rule.RuleID,
			Ts:      m.Ts,
			Value:   value,
			Message: fmt.Sprintf("%s %s %g (current: %g)", rule.MetricKey, rule.Operator, rule.Threshold, value),
		})
	}
	return events
}

// -----------------------------------------------------------------------------

// BuiltinStatus reports the fixed system thresholds against the snapshot,
// keyed the way alerts.list exposes them.
func (e *Engine) BuiltinStatus(m models.MMetrics, uptimeSeconds float64) map[string]models.MAlertStatus {
	status := make(map[string]models.MAlertStatus)

	status["high_latency"] = thresholdStatus(m.LatencyMs, HighLatencyThresholdMs,
		m.LatencyMs > HighLatencyThresholdMs,
		fmt.Sprintf("High latency detected: %.0fms", m.LatencyMs),
		fmt.Sprintf("Latency normal: %.0fms", m.LatencyMs))

	status["error_rate"] = thresholdStatus(m.ErrorRate, ErrorRateThreshold,
		m.ErrorRate > ErrorRateThreshold,
		fmt.Sprintf("High error rate: %.2f%%", m.ErrorRate*100),
		fmt.Sprintf("Error rate normal: %.2f%%", m.ErrorRate*100))

	status["connection_count"] = thresholdStatus(float64(m.ConnCount), ConnectionThreshold,
		m.ConnCount > ConnectionThreshold,
		fmt.Sprintf("High connection count: %d", m.ConnCount),
		fmt.Sprintf("Connection count normal: %d", m.ConnCount))

	lowFiring := m.Throughput < LowThroughputThreshold && uptimeSeconds > 60
	low := thresholdStatus(m.Throughput, LowThroughputThreshold,
		false,
		"", fmt.Sprintf("Throughput normal: %.2f orders/sec", m.Throughput))
	if lowFiring {
		low.Status = "warning"
		low.Message = fmt.Sprintf("Low throughput: %.2f orders/sec", m.Throughput)
	}
	status["low_throughput"] = low

	status["high_throughput"] = thresholdStatus(m.Throughput, HighThroughputThreshold,
		m.Throughput > HighThroughputThreshold,
		fmt.Sprintf("High throughput detected: %.2f orders/sec", m.Throughput),
		fmt.Sprintf("Throughput normal: %.2f orders/sec", m.Throughput))

	return status
}

// -----------------------------------------------------------------------------

func thresholdStatus(current, threshold float64, firing bool, alertMsg, okMsg string) models.MAlertStatus {
	s := models.MAlertStatus{Threshold: threshold, Current: current, Status: "ok", Message: okMsg}
	if firing {
		s.Status = "alert"
		s.Message = alertMsg
	}
	return s
}

// -----------------------------------------------------------------------------

func metricValue(key string, m models.MMetrics) (float64, bool) {
	switch key {
	case models.MetricLatencyMs:
		return m.LatencyMs, true
	case models.MetricThroughput:
		return m.Throughput, true
	case models.MetricErrorRate:
		return m.ErrorRate, true
	case models.MetricConnCount:
		return float64(m.ConnCount), true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}

// -----------------------------------------------------------------------------

// ValidOperator reports whether op is an accepted comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==":
		return true
	}
	return false
}
