package server

import (
	"time"

	"trading-gateway/src/protocol"
	"trading-gateway/src/session"
)

// -----------------------------------------------------------------------------
// Request dispatch: inbound dedup, middleware chain, handler routing.
// -----------------------------------------------------------------------------

type HandlerFunc func(ctx *RequestContext)

// Middleware wraps dispatch; not calling next rejects the request.
type Middleware func(ctx *RequestContext, next func())

// -----------------------------------------------------------------------------

// RequestContext carries one inbound request through the chain to its handler.
type RequestContext struct {
	Server  *GatewayServer
	Session *session.Session
	Method  string
	Seq     uint64
	Body    []byte

	replied       bool
	responseFrame []byte
}

// -----------------------------------------------------------------------------

// Decode parses the request payload into out, replying INVALID_PARAMS on
// malformed input.
func (ctx *RequestContext) Decode(out interface{}) bool {
	if err := protocol.DecodeBody(ctx.Body, out); err != nil {
		ctx.ReplyError(protocol.CodeInvalidParams, "malformed payload")
		return false
	}
	return true
}

// -----------------------------------------------------------------------------

// Reply encodes the payload and sends it back with the request's QoS:
// sequenced requests get an at-least-once response, unsequenced ones a
// fire-and-forget frame.
func (ctx *RequestContext) Reply(v interface{}) {
	body, err := protocol.EncodeBody(v)
	if err != nil {
		ctx.Server.Logger.Error("failed to encode %s response: %v", ctx.Method, err)
		return
	}
	ctx.replied = true

	if ctx.Seq == 0 {
		if err := ctx.Session.Outbound.FireAndForget(ctx.Method, body); err != nil {
			ctx.Server.Logger.Debug("fire-and-forget reply failed: %v", err)
		}
		return
	}

	_, frame, err := ctx.Session.Outbound.Send(ctx.Method, body)
	if err != nil {
		ctx.Server.Logger.Error("failed to send %s response: %v", ctx.Method, err)
		return
	}
	ctx.responseFrame = frame
}

// -----------------------------------------------------------------------------

// ReplyError sends a wire error envelope.
func (ctx *RequestContext) ReplyError(code, message string) {
	ctx.Reply(protocol.NewError(code, message))
}

// -----------------------------------------------------------------------------

// Replied reports whether a response went out.
func (ctx *RequestContext) Replied() bool { return ctx.replied }

// -----------------------------------------------------------------------------

// Authenticated reports the session's authentication state.
func (ctx *RequestContext) Authenticated() bool {
	v, ok := ctx.Session.GetField("authenticated")
	return ok && v == "true"
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// dispatch routes one decoded frame. Called from the session's read loop, so
// requests of one session never overlap.
func (s *GatewayServer) dispatch(sess *session.Session, frame protocol.Frame) {
	// Peer acknowledgement of an outbound QoS-1 frame
	if frame.Method == protocol.MethodAck {
		var ack protocol.AckBody
		if err := protocol.DecodeBody(frame.Body, &ack); err == nil {
			sess.Outbound.Ack(ack.Seq)
		}
		return
	}

	// Sequenced duplicates replay their cached response instead of re-entering
	// the chain
	if frame.Seq > 0 {
		if cached, dup := sess.Inbound.CheckDuplicate(frame.Seq); dup {
			if cached != nil {
				sess.Outbound.Replay(cached)
			}
			return
		}
	}

	ctx := &RequestContext{
		Server:  s,
		Session: sess,
		Method:  frame.Method,
		Seq:     frame.Seq,
		Body:    frame.Body,
	}

	s.runChain(ctx, 0)

	if frame.Seq > 0 {
		ttl := time.Duration(s.Config.Idempotency.TTLMs) * time.Millisecond
		sess.Inbound.Commit(frame.Seq, ctx.responseFrame, ttl)
	}
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) runChain(ctx *RequestContext, idx int) {
	if idx < len(s.middleware) {
		s.middleware[idx](ctx, func() { s.runChain(ctx, idx+1) })
		return
	}
	s.invokeHandler(ctx)
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) invokeHandler(ctx *RequestContext) {
	handler, ok := s.handlers[ctx.Method]
	if !ok {
		ctx.ReplyError(protocol.CodeUnknownMethod, "unknown method: "+ctx.Method)
		return
	}

	// Faults surface as INTERNAL_ERROR; the connection stays up
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("handler %s panicked: %v", ctx.Method, r)
			s.Metrics.RecordError()
			s.checkAndBroadcastAlerts()
			if !ctx.Replied() {
				ctx.ReplyError(protocol.CodeInternalError, "internal error")
			}
		}
	}()

	handler(ctx)
}

// -----------------------------------------------------------------------------
// Middleware chain, in declaration order.
// -----------------------------------------------------------------------------

func (s *GatewayServer) setupMiddleware() {
	s.middleware = []Middleware{
		s.traceMiddleware,
		s.authMiddleware,
		s.rateLimitMiddleware,
	}
}

// -----------------------------------------------------------------------------

// traceMiddleware logs the request and samples its latency.
func (s *GatewayServer) traceMiddleware(ctx *RequestContext, next func()) {
	start := time.Now()
	s.Logger.Debug("request %s from session %s", ctx.Method, ctx.Session.ID)

	next()

	s.Metrics.ObserveLatency(float64(time.Since(start).Microseconds()) / 1000.0)
}

// -----------------------------------------------------------------------------

// protectedMethods require an authenticated session.
var protectedMethods = map[string]bool{
	"orders.place":       true,
	"orders.cancel":      true,
	"orders.status":      true,
	"orders.history":     true,
	"market.subscribe":   true,
	"market.unsubscribe": true,
	"market.list":        true,
	"history.query":      true,
	"history.latest":     true,
	"metrics.get":        true,
	"alerts.subscribe":   true,
	"alerts.list":        true,
	"alerts.register":    true,
	"alerts.disable":     true,
}

// authMiddleware silently drops protected requests on unauthenticated
// sessions: no next, no response.
func (s *GatewayServer) authMiddleware(ctx *RequestContext, next func()) {
	if !protectedMethods[ctx.Method] {
		next()
		return
	}

	if !ctx.Authenticated() {
		s.Logger.Info("rejected %s: session %s not authenticated", ctx.Method, ctx.Session.ID)
		return
	}
	next()
}

// -----------------------------------------------------------------------------

// rateLimitMiddleware enforces the per-session order interval. A request
// whose idempotency key already has a cached result passes through so
// replays always reach their cached response.
func (s *GatewayServer) rateLimitMiddleware(ctx *RequestContext, next func()) {
	if ctx.Method != "orders.place" {
		next()
		return
	}

	var req ordersPlaceRequest
	if err := protocol.DecodeBody(ctx.Body, &req); err == nil && req.IdempotencyKey != "" {
		if _, hit := s.Idem.Get(req.IdempotencyKey); hit {
			next()
			return
		}
	}

	if !s.Limiter.Allow(ctx.Session.ID, ctx.Method) {
		ctx.ReplyError(protocol.CodeRateLimitExceeded, "Too many requests")
		return
	}
	next()
}

// -----------------------------------------------------------------------------

// ordersPlaceRequest is shared between the rate limiter and the handler.
type ordersPlaceRequest struct {
	IdempotencyKey string  `msgpack:"idempotencyKey"`
	Symbol         string  `msgpack:"symbol"`
	Side           string  `msgpack:"side"`
	Type           string  `msgpack:"type"`
	Qty            float64 `msgpack:"qty"`
	Price          float64 `msgpack:"price"`
}
