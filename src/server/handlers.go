package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-gateway/src/models"
	"trading-gateway/src/protocol"
)

// waitForProducer bounds how long a concurrent request waits for the key owner.
const waitForProducer = 5 * time.Second

// -----------------------------------------------------------------------------
// Handler registration
// -----------------------------------------------------------------------------

func (s *GatewayServer) setupHandlers() {
	// Authentication
	s.handlers["hello"] = s.handleHello
	s.handlers["logout"] = s.handleLogout

	// Order management (QoS1 - AtLeastOnce)
	s.handlers["orders.place"] = s.handleOrdersPlace
	s.handlers["orders.cancel"] = s.handleOrdersCancel
	s.handlers["orders.status"] = s.handleOrdersStatus
	s.handlers["orders.history"] = s.handleOrdersHistory

	// Market data rooms
	s.handlers["market.subscribe"] = s.handleMarketSubscribe
	s.handlers["market.unsubscribe"] = s.handleMarketUnsubscribe
	s.handlers["market.list"] = s.handleMarketList

	// History
	s.handlers["history.query"] = s.handleHistoryQuery
	s.handlers["history.latest"] = s.handleHistoryLatest

	// System management
	s.handlers["metrics.get"] = s.handleMetricsGet
	s.handlers["alerts.subscribe"] = s.handleAlertsSubscribe
	s.handlers["alerts.list"] = s.handleAlertsList
	s.handlers["alerts.register"] = s.handleAlertsRegister
	s.handlers["alerts.disable"] = s.handleAlertsDisable
}

// -----------------------------------------------------------------------------
// hello / logout
// -----------------------------------------------------------------------------

type helloRequest struct {
	Token    string `msgpack:"token"`
	ClientID string `msgpack:"clientId"`
	DeviceID string `msgpack:"deviceId"`
}

type helloResponse struct {
	SessionID       string            `msgpack:"sessionId"`
	UserID          string            `msgpack:"userId"`
	Roles           []string          `msgpack:"roles"`
	Token           string            `msgpack:"token"`
	SessionExpiryMs int64             `msgpack:"sessionExpiryMs"`
	Message         string            `msgpack:"message"`
	Features        map[string]string `msgpack:"features"`
}

func (s *GatewayServer) handleHello(ctx *RequestContext) {
	var req helloRequest
	if !ctx.Decode(&req) {
		return
	}

	if req.Token == "" || req.ClientID == "" {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing required parameters: token, clientId")
		return
	}

	principal, ok := VerifyToken(req.Token)
	if !ok {
		ctx.ReplyError(protocol.CodeAuthFailed, "Invalid or expired token")
		return
	}

	sess := ctx.Session
	sess.SetField("userId", principal.Subject, false)
	sess.SetField("clientId", req.ClientID, false)
	sess.SetField("deviceId", req.DeviceID, false)
	sess.SetField("roles", models.EncodeStringList(principal.Roles), false)
	sess.SetField("authenticated", "true", false)

	ctx.Reply(helloResponse{
		SessionID:       sess.ID,
		UserID:          principal.Subject,
		Roles:           principal.Roles,
		Token:           sess.Identity.TokenHex(),
		SessionExpiryMs: s.Sessions.TTL().Milliseconds(),
		Message:         "Welcome to the trading gateway",
		Features: map[string]string{
			"qos":        "AtLeastOnce for orders",
			"rooms":      "Market data subscriptions",
			"middleware": "Authentication & rate limiting",
			"reliable":   "Session state management",
		},
	})
}

// -----------------------------------------------------------------------------

type logoutResponse struct {
	SessionID string `msgpack:"sessionId"`
	Message   string `msgpack:"message"`
}

func (s *GatewayServer) handleLogout(ctx *RequestContext) {
	sess := ctx.Session
	sess.SetField("authenticated", "false", false)
	sess.SetField("userId", "", false)

	s.Rooms.LeaveAll(sess.ID)

	ctx.Reply(logoutResponse{
		SessionID: sess.ID,
		Message:   "Successfully logged out",
	})
}

// -----------------------------------------------------------------------------
// orders.place
// -----------------------------------------------------------------------------

type ordersPlaceResponse struct {
	Status         string  `msgpack:"status"`
	OrderID        string  `msgpack:"orderId"`
	EchoKey        string  `msgpack:"echoKey"`
	Reason         string  `msgpack:"reason"`
	SessionID      string  `msgpack:"sessionId"`
	Symbol         string  `msgpack:"symbol"`
	Side           string  `msgpack:"side"`
	Type           string  `msgpack:"type"`
	Price          float64 `msgpack:"price"`
	Quantity       float64 `msgpack:"qty"`
	IdempotencyKey string  `msgpack:"idempotencyKey"`
}

func (s *GatewayServer) handleOrdersPlace(ctx *RequestContext) {
	var req ordersPlaceRequest
	if !ctx.Decode(&req) {
		return
	}

	if req.IdempotencyKey == "" || req.Symbol == "" {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing required parameters: idempotencyKey, symbol")
		return
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		ctx.ReplyError(protocol.CodeInvalidParams, "side must be BUY or SELL")
		return
	}
	if req.Type != models.OrderTypeMarket && req.Type != models.OrderTypeLimit {
		ctx.ReplyError(protocol.CodeInvalidParams, "type must be MARKET or LIMIT")
		return
	}
	if req.Qty <= 0 || req.Price <= 0 {
		ctx.ReplyError(protocol.CodeInvalidParams, "qty and price must be positive")
		return
	}

	// Fast path: identical key, identical response
	if cached, ok := s.Idem.Get(req.IdempotencyKey); ok {
		ctx.Reply(s.placeResponse(ctx, req, cached))
		return
	}

	leader, wait := s.Idem.Begin(req.IdempotencyKey)
	if !leader {
		// Another producer holds the key: reuse its result
		waitCtx, cancel := context.WithTimeout(context.Background(), waitForProducer)
		defer cancel()

		result, err := wait(waitCtx)
		if err != nil {
			ctx.ReplyError(protocol.CodeInternalError, "concurrent order with the same key did not finish")
			return
		}
		ctx.Reply(s.placeResponse(ctx, req, result))
		return
	}

	// If the execution faults before publishing, release the key so waiters
	// and retries are not stranded; a no-op once Put ran.
	defer s.Idem.Abort(req.IdempotencyKey)

	result := s.executePlace(ctx, req)
	ctx.Reply(s.placeResponse(ctx, req, result))
}

// -----------------------------------------------------------------------------

// executePlace runs the single-producer side effects for an order and leaves
// the result in the idempotency cache.
func (s *GatewayServer) executePlace(ctx *RequestContext, req ordersPlaceRequest) models.MOrderResult {
	sess := ctx.Session
	ttl := s.Config.Idempotency.TTLMs

	orderID := fmt.Sprintf("ORD_%d", s.orderSeq.Add(1))
	order := models.MOrder{
		OrderID:        orderID,
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         req.Symbol,
		Type:           req.Type,
		Side:           req.Side,
		Qty:            req.Qty,
		Price:          req.Price,
		Status:         models.OrderStatusNew,
		CreatedAt:      time.Now().UnixMilli(),
	}

	account := s.accountForSession(ctx)
	positions := s.positionsForAccount(account)

	if ok, reason := s.Risk.Validate(account, positions, order); !ok {
		result := models.MOrderResult{
			Status:  models.OrderStatusRejected,
			OrderID: orderID,
			EchoKey: req.IdempotencyKey,
			Reason:  reason,
		}
		s.Idem.Put(req.IdempotencyKey, result, ttl)
		return result
	}

	status := models.OrderStatusAck
	if req.Type == models.OrderTypeMarket {
		status = models.OrderStatusFilled
	}

	result := models.MOrderResult{
		Status:  status,
		OrderID: orderID,
		EchoKey: req.IdempotencyKey,
	}
	s.Idem.Put(req.IdempotencyKey, result, ttl)

	s.appendOrderRecord(req.IdempotencyKey, status, orderID, map[string]interface{}{
		"orderId":   orderID,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"quantity":  req.Qty,
		"price":     req.Price,
		"status":    status,
		"sessionId": sess.ID,
		"timestamp": time.Now().UnixMilli(),
	})

	sess.SetField("lastOrderId", orderID, false)
	sess.SetField("lastOrderStatus", status, false)

	s.Metrics.RecordOrderPlaced()
	s.checkAndBroadcastAlerts()

	return result
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) placeResponse(ctx *RequestContext, req ordersPlaceRequest, result models.MOrderResult) ordersPlaceResponse {
	return ordersPlaceResponse{
		Status:         result.Status,
		OrderID:        result.OrderID,
		EchoKey:        result.EchoKey,
		Reason:         result.Reason,
		SessionID:      ctx.Session.ID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Price:          req.Price,
		Quantity:       req.Qty,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// -----------------------------------------------------------------------------

// appendOrderRecord writes to the order log fire-and-forget, with one
// reconnect retry on failure.
func (s *GatewayServer) appendOrderRecord(key, status, orderID string, details map[string]interface{}) {
	if s.OrderLog == nil {
		return
	}

	resultJSON, err := json.Marshal(details)
	if err != nil {
		resultJSON = []byte(`{"error":"marshal_failed"}`)
	}

	if err := s.OrderLog.Append(key, status, orderID, string(resultJSON)); err != nil {
		s.Logger.Warning("order log append failed: %v, reconnecting", err)
		if rerr := s.OrderLog.Reconnect(); rerr != nil {
			s.Logger.Error("order log reconnect failed: %v", rerr)
			return
		}
		if err := s.OrderLog.Append(key, status, orderID, string(resultJSON)); err != nil {
			s.Logger.Error("order log retry failed: %v", err)
		}
	}
}

// -----------------------------------------------------------------------------
// orders.cancel
// -----------------------------------------------------------------------------

type ordersCancelRequest struct {
	OrderID string `msgpack:"orderId"`
}

type ordersCancelResponse struct {
	Status  string `msgpack:"status"`
	OrderID string `msgpack:"orderId"`
	Message string `msgpack:"message"`
}

func (s *GatewayServer) handleOrdersCancel(ctx *RequestContext) {
	var req ordersCancelRequest
	if !ctx.Decode(&req) {
		return
	}
	if req.OrderID == "" {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing orderId")
		return
	}

	details := map[string]interface{}{
		"orderId":     req.OrderID,
		"status":      models.OrderStatusCanceled,
		"sessionId":   ctx.Session.ID,
		"timestamp":   time.Now().UnixMilli(),
		"cancelledAt": time.Now().UnixMilli(),
	}

	// Preserve the original order details on the cancellation record
	if s.OrderLog != nil {
		if prior, err := s.OrderLog.GetByOrderID(req.OrderID); err == nil && prior != nil {
			var original map[string]interface{}
			if json.Unmarshal([]byte(prior.ResultJSON), &original) == nil {
				for _, field := range []string{"symbol", "side", "type", "price", "quantity"} {
					if v, ok := original[field]; ok {
						details[field] = v
					}
				}
			}
		}
	}

	s.appendOrderRecord("CANCEL_"+req.OrderID, models.OrderStatusCanceled, req.OrderID, details)

	s.Metrics.RecordOrderCancelled()
	s.checkAndBroadcastAlerts()

	ctx.Reply(ordersCancelResponse{
		Status:  models.OrderStatusCanceled,
		OrderID: req.OrderID,
		Message: "Order canceled successfully",
	})
}

// -----------------------------------------------------------------------------
// orders.status / orders.history
// -----------------------------------------------------------------------------

type ordersStatusResponse struct {
	LastOrderID     string `msgpack:"lastOrderId"`
	LastOrderStatus string `msgpack:"lastOrderStatus"`
	Message         string `msgpack:"message"`
}

func (s *GatewayServer) handleOrdersStatus(ctx *RequestContext) {
	orderID, ok := ctx.Session.GetField("lastOrderId")
	if !ok {
		orderID = "none"
	}
	status, ok := ctx.Session.GetField("lastOrderStatus")
	if !ok {
		status = "none"
	}

	ctx.Reply(ordersStatusResponse{
		LastOrderID:     orderID,
		LastOrderStatus: status,
		Message:         "Order status retrieved from session state",
	})
}

// -----------------------------------------------------------------------------

type ordersHistoryRequest struct {
	FromTime int64 `msgpack:"fromTime"`
	ToTime   int64 `msgpack:"toTime"`
	Limit    int   `msgpack:"limit"`
}

type ordersHistoryResponse struct {
	Success bool                  `msgpack:"success"`
	Orders  []models.MOrderRecord `msgpack:"orders"`
	Count   int                   `msgpack:"count"`
	Message string                `msgpack:"message"`
}

func (s *GatewayServer) handleOrdersHistory(ctx *RequestContext) {
	var req ordersHistoryRequest
	if !ctx.Decode(&req) {
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	if s.OrderLog == nil {
		ctx.ReplyError(protocol.CodeServiceUnavailable, "Order log not available")
		return
	}

	records, err := s.OrderLog.QueryLatestPerOrder(req.FromTime, req.ToTime, limit)
	if err != nil {
		s.Logger.Error("order history query failed: %v", err)
		ctx.ReplyError(protocol.CodeQueryFailed, "Failed to query order history")
		return
	}

	if records == nil {
		records = []models.MOrderRecord{}
	}
	ctx.Reply(ordersHistoryResponse{
		Success: true,
		Orders:  records,
		Count:   len(records),
		Message: "Order history retrieved successfully",
	})
}

// -----------------------------------------------------------------------------
// Demo account state: one funded account per user, flat positions.
// -----------------------------------------------------------------------------

func (s *GatewayServer) accountForSession(ctx *RequestContext) models.MAccount {
	userID, ok := ctx.Session.GetField("userId")
	if !ok || userID == "" {
		userID = "demo-user"
	}
	return models.MAccount{
		AccountID:    "ACC_" + userID,
		OwnerUserID:  userID,
		BaseCurrency: "USD",
		Balance:      100000.0,
	}
}

func (s *GatewayServer) positionsForAccount(account models.MAccount) []models.MPosition {
	return nil
}
