package server

import (
	"time"

	"trading-gateway/src/alerting"
	"trading-gateway/src/models"
	"trading-gateway/src/protocol"
	"trading-gateway/src/rooms"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// -----------------------------------------------------------------------------
// metrics.get
// -----------------------------------------------------------------------------

type metricsGetResponse struct {
	Ts           int64   `msgpack:"ts"`
	UptimeMs     int64   `msgpack:"uptimeMs"`
	LatencyMs    float64 `msgpack:"latencyMs"`
	Throughput   float64 `msgpack:"throughput"`
	ErrorRate    float64 `msgpack:"errorRate"`
	TotalOrders  int64   `msgpack:"totalOrders"`
	TotalCancels int64   `msgpack:"totalCancels"`
	TotalErrors  int64   `msgpack:"totalErrors"`
	ConnCount    int32   `msgpack:"connCount"`
}

func (s *GatewayServer) handleMetricsGet(ctx *RequestContext) {
	m := s.Metrics.Snapshot()

	ctx.Reply(metricsGetResponse{
		Ts:           m.Ts,
		UptimeMs:     s.Metrics.UptimeMs(),
		LatencyMs:    m.LatencyMs,
		Throughput:   m.Throughput,
		ErrorRate:    m.ErrorRate,
		TotalOrders:  s.Metrics.TotalOrdersPlaced(),
		TotalCancels: s.Metrics.TotalOrdersCancelled(),
		TotalErrors:  s.Metrics.TotalErrors(),
		ConnCount:    m.ConnCount,
	})
}

// -----------------------------------------------------------------------------
// alerts.subscribe
// -----------------------------------------------------------------------------

type alertsSubscribeResponse struct {
	Room    string `msgpack:"room"`
	Message string `msgpack:"message"`
}

func (s *GatewayServer) handleAlertsSubscribe(ctx *RequestContext) {
	alertsRoom := rooms.AlertsRoom()
	s.Rooms.Join(alertsRoom, ctx.Session.ID)

	ctx.Reply(alertsSubscribeResponse{
		Room:    alertsRoom,
		Message: "Successfully subscribed to alerts",
	})
}

// -----------------------------------------------------------------------------
// alerts.list
// -----------------------------------------------------------------------------

type alertsListResponse struct {
	Alerts      map[string]models.MAlertStatus `msgpack:"alerts"`
	AlertEvents []models.MAlertEvent           `msgpack:"alertEvents"`
	Timestamp   int64                          `msgpack:"timestamp"`
	Message     string                         `msgpack:"message"`
}

func (s *GatewayServer) handleAlertsList(ctx *RequestContext) {
	m := s.Metrics.Snapshot()
	uptimeSeconds := float64(s.Metrics.UptimeMs()) / 1000.0

	builtin := s.Alerts.BuiltinStatus(m, uptimeSeconds)
	events := s.Alerts.Evaluate(m)
	if events == nil {
		events = []models.MAlertEvent{}
	}

	ctx.Reply(alertsListResponse{
		Alerts:      builtin,
		AlertEvents: events,
		Timestamp:   m.Ts,
		Message:     "Real-time system alerts with current metrics",
	})

	// Broadcast when anything fires so subscribers see the status change
	firing := len(events) > 0
	for _, status := range builtin {
		if status.Status == "alert" || status.Status == "warning" {
			firing = true
			break
		}
	}
	if firing {
		s.broadcastAlerts("alert_status_change", builtin, events)
	}
}

// -----------------------------------------------------------------------------
// alerts.register
// -----------------------------------------------------------------------------

type alertsRegisterRequest struct {
	RuleID    string  `msgpack:"ruleId"`
	MetricKey string  `msgpack:"metricKey"`
	Operator  string  `msgpack:"operator"`
	Threshold float64 `msgpack:"threshold"`
	Enabled   *bool   `msgpack:"enabled"`
}

type alertsRegisterResponse struct {
	RuleID    string  `msgpack:"ruleId"`
	MetricKey string  `msgpack:"metricKey"`
	Operator  string  `msgpack:"operator"`
	Threshold float64 `msgpack:"threshold"`
	Enabled   bool    `msgpack:"enabled"`
	Message   string  `msgpack:"message"`
}

var validMetricKeys = map[string]bool{
	models.MetricLatencyMs:  true,
	models.MetricThroughput: true,
	models.MetricErrorRate:  true,
	models.MetricConnCount:  true,
}

func (s *GatewayServer) handleAlertsRegister(ctx *RequestContext) {
	var req alertsRegisterRequest
	if !ctx.Decode(&req) {
		return
	}

	if req.RuleID == "" || req.MetricKey == "" || req.Operator == "" {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing required parameters: ruleId, metricKey, operator")
		return
	}
	if !validMetricKeys[req.MetricKey] {
		ctx.ReplyError(protocol.CodeInvalidParams, "Unknown metric key: "+req.MetricKey)
		return
	}
	if !alerting.ValidOperator(req.Operator) {
		ctx.ReplyError(protocol.CodeInvalidParams, "Unknown operator: "+req.Operator)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	s.Alerts.RegisterRule(models.MAlertRule{
		RuleID:    req.RuleID,
		MetricKey: req.MetricKey,
		Operator:  req.Operator,
		Threshold: req.Threshold,
		Enabled:   enabled,
	})

	ctx.Reply(alertsRegisterResponse{
		RuleID:    req.RuleID,
		MetricKey: req.MetricKey,
		Operator:  req.Operator,
		Threshold: req.Threshold,
		Enabled:   enabled,
		Message:   "Alert rule registered successfully",
	})
}

// -----------------------------------------------------------------------------
// alerts.disable
// -----------------------------------------------------------------------------

type alertsDisableRequest struct {
	RuleID string `msgpack:"ruleId"`
}

type alertsDisableResponse struct {
	RuleID  string `msgpack:"ruleId"`
	Message string `msgpack:"message"`
}

func (s *GatewayServer) handleAlertsDisable(ctx *RequestContext) {
	var req alertsDisableRequest
	if !ctx.Decode(&req) {
		return
	}
	if req.RuleID == "" {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing required parameter: ruleId")
		return
	}

	s.Alerts.DisableRule(req.RuleID)

	ctx.Reply(alertsDisableResponse{
		RuleID:  req.RuleID,
		Message: "Alert rule disabled successfully",
	})
}

// -----------------------------------------------------------------------------
// Alert evaluation after counter changes
// -----------------------------------------------------------------------------

type alertsPush struct {
	Type      string                         `msgpack:"type"`
	Alerts    map[string]models.MAlertStatus `msgpack:"alerts"`
	Events    []models.MAlertEvent           `msgpack:"events"`
	Timestamp int64                          `msgpack:"timestamp"`
	Message   string                         `msgpack:"message"`
}

// checkAndBroadcastAlerts samples the metrics after a counter change and
// pushes into alerts:system when anything fires.
func (s *GatewayServer) checkAndBroadcastAlerts() {
	m := s.Metrics.Snapshot()
	uptimeSeconds := float64(s.Metrics.UptimeMs()) / 1000.0

	builtin := s.Alerts.BuiltinStatus(m, uptimeSeconds)
	firing := make(map[string]models.MAlertStatus)
	for key, status := range builtin {
		if status.Status == "alert" || status.Status == "warning" {
			firing[key] = status
		}
	}

	events := s.Alerts.Evaluate(m)

	if len(firing) == 0 && len(events) == 0 {
		return
	}
	s.broadcastAlerts("metrics_alert", firing, events)
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) broadcastAlerts(pushType string, alerts map[string]models.MAlertStatus, events []models.MAlertEvent) {
	body, err := protocol.EncodeBody(alertsPush{
		Type:      pushType,
		Alerts:    alerts,
		Events:    events,
		Timestamp: nowMs(),
		Message:   "System metrics triggered alerts",
	})
	if err != nil {
		s.Logger.Error("failed to encode alert push: %v", err)
		return
	}
	s.Rooms.Broadcast(rooms.AlertsRoom(), "alerts.push", body)
}
