package models

// -----------------------------------------------------------------------------
// Metrics and alerting values
// -----------------------------------------------------------------------------

// Metric keys an alert rule may reference.
const (
	MetricLatencyMs  = "latencyMs"
	MetricThroughput = "throughput"
	MetricErrorRate  = "errorRate"
	MetricConnCount  = "connCount"
)

// -----------------------------------------------------------------------------

// MMetrics is a point-in-time snapshot derived from the process counters.
type MMetrics struct {
	Ts         int64   `msgpack:"ts" json:"ts"`
	LatencyMs  float64 `msgpack:"latencyMs" json:"latencyMs"`
	Throughput float64 `msgpack:"throughput" json:"throughput"`
	ErrorRate  float64 `msgpack:"errorRate" json:"errorRate"`
	ConnCount  int32   `msgpack:"connCount" json:"connCount"`
}

// -----------------------------------------------------------------------------

type MAlertRule struct {
	RuleID    string  `msgpack:"ruleId" json:"ruleId"`
	MetricKey string  `msgpack:"metricKey" json:"metricKey"`
	Operator  string  `msgpack:"operator" json:"operator"`
	Threshold float64 `msgpack:"threshold" json:"threshold"`
	Enabled   bool    `msgpack:"enabled" json:"enabled"`
}

type MAlertEvent struct {
	EventID string  `msgpack:"eventId" json:"eventId"`
	RuleID  string  `msgpack:"ruleId" json:"ruleId"`
	Ts      int64   `msgpack:"ts" json:"ts"`
	Value   float64 `msgpack:"value" json:"value"`
	Message string  `msgpack:"message" json:"message"`
}

// -----------------------------------------------------------------------------

// MAlertStatus reports one threshold check in alerts.list responses.
type MAlertStatus struct {
	Threshold float64 `msgpack:"threshold" json:"threshold"`
	Current   float64 `msgpack:"current" json:"current"`
	Status    string  `msgpack:"status" json:"status"`
	Message   string  `msgpack:"message" json:"message"`
}
