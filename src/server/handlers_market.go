package server

import (
	"trading-gateway/src/models"
	"trading-gateway/src/protocol"
	"trading-gateway/src/rooms"
)

// subscribedRoomsField holds the session's market rooms as a JSON list.
const subscribedRoomsField = "subscribedRooms"

// -----------------------------------------------------------------------------
// market.subscribe
// -----------------------------------------------------------------------------

type marketSubscribeRequest struct {
	Symbols []string `msgpack:"symbols"`
}

type marketSubscribeResponse struct {
	Subscribed []string `msgpack:"subscribed"`
	Rooms      []string `msgpack:"rooms"`
	LeftRooms  []string `msgpack:"leftRooms"`
	Message    string   `msgpack:"message"`
}

func (s *GatewayServer) handleMarketSubscribe(ctx *RequestContext) {
	var req marketSubscribeRequest
	if !ctx.Decode(&req) {
		return
	}
	if len(req.Symbols) == 0 {
		ctx.ReplyError(protocol.CodeInvalidParams, "Symbols list is required")
		return
	}

	sess := ctx.Session

	// Leave the previous market rooms first so subscription churn never
	// leaves a session receiving stale symbols
	leftRooms := s.marketRoomsOf(sess.ID)
	for _, roomName := range leftRooms {
		s.Rooms.Leave(roomName, sess.ID)
	}

	subscribedRooms := make([]string, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		if symbol == "" {
			continue
		}
		roomName := rooms.MarketRoom(symbol)
		s.Rooms.Join(roomName, sess.ID)
		subscribedRooms = append(subscribedRooms, roomName)
	}

	sess.SetField(subscribedRoomsField, models.EncodeStringList(subscribedRooms), true)

	ctx.Reply(marketSubscribeResponse{
		Subscribed: req.Symbols,
		Rooms:      subscribedRooms,
		LeftRooms:  leftRooms,
		Message:    "Successfully subscribed to market data",
	})
}

// -----------------------------------------------------------------------------

// marketRoomsOf returns the session's current market rooms, preferring the
// persisted session field and falling back to the room registry.
func (s *GatewayServer) marketRoomsOf(sessionID string) []string {
	if raw, ok, err := s.Sessions.GetField(sessionID, subscribedRoomsField); err == nil && ok {
		if roomsList := models.DecodeStringList(raw); roomsList != nil {
			return roomsList
		}
	}

	var marketRooms []string
	for _, roomName := range s.Rooms.MemberRooms(sessionID) {
		if len(roomName) > 7 && roomName[:7] == "market:" {
			marketRooms = append(marketRooms, roomName)
		}
	}
	return marketRooms
}

// -----------------------------------------------------------------------------
// market.unsubscribe
// -----------------------------------------------------------------------------

type marketUnsubscribeResponse struct {
	Unsubscribed []string `msgpack:"unsubscribed"`
	Rooms        []string `msgpack:"rooms"`
	Message      string   `msgpack:"message"`
}

func (s *GatewayServer) handleMarketUnsubscribe(ctx *RequestContext) {
	var req marketSubscribeRequest
	if !ctx.Decode(&req) {
		return
	}

	sess := ctx.Session
	unsubscribedRooms := make([]string, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		roomName := rooms.MarketRoom(symbol)
		s.Rooms.Leave(roomName, sess.ID)
		unsubscribedRooms = append(unsubscribedRooms, roomName)
	}

	// Refresh the persisted subscription list
	remaining := make([]string, 0)
	for _, roomName := range s.marketRoomsOf(sess.ID) {
		removed := false
		for _, gone := range unsubscribedRooms {
			if roomName == gone {
				removed = true
				break
			}
		}
		if !removed {
			remaining = append(remaining, roomName)
		}
	}
	sess.SetField(subscribedRoomsField, models.EncodeStringList(remaining), true)

	ctx.Reply(marketUnsubscribeResponse{
		Unsubscribed: req.Symbols,
		Rooms:        unsubscribedRooms,
		Message:      "Successfully unsubscribed from market data",
	})
}

// -----------------------------------------------------------------------------
// market.list
// -----------------------------------------------------------------------------

type marketListResponse struct {
	SubscribedRooms  []string `msgpack:"subscribedRooms"`
	AvailableSymbols []string `msgpack:"availableSymbols"`
	Message          string   `msgpack:"message"`
}

func (s *GatewayServer) handleMarketList(ctx *RequestContext) {
	subscribed := s.marketRoomsOf(ctx.Session.ID)
	if subscribed == nil {
		subscribed = []string{}
	}

	ctx.Reply(marketListResponse{
		SubscribedRooms:  subscribed,
		AvailableSymbols: s.Config.SymbolCodes(),
		Message:          "Market data subscription list retrieved from session state",
	})
}

// -----------------------------------------------------------------------------
// history.query
// -----------------------------------------------------------------------------

type historyQueryRequest struct {
	Symbol   string `msgpack:"symbol"`
	FromTs   int64  `msgpack:"fromTs"`
	ToTs     int64  `msgpack:"toTs"`
	Interval string `msgpack:"interval"`
	Limit    int    `msgpack:"limit"`
}

type historyQueryResponse struct {
	Symbol   string           `msgpack:"symbol"`
	Candles  []models.MCandle `msgpack:"candles"`
	Count    int              `msgpack:"count"`
	FromTs   int64            `msgpack:"fromTs"`
	ToTs     int64            `msgpack:"toTs"`
	Interval string           `msgpack:"interval"`
}

var validIntervals = map[string]bool{
	models.IntervalS1: true, models.IntervalS5: true, models.IntervalS15: true,
	models.IntervalM1: true, models.IntervalM5: true, models.IntervalM15: true,
	models.IntervalH1: true, models.IntervalD1: true,
}

func (s *GatewayServer) handleHistoryQuery(ctx *RequestContext) {
	var req historyQueryRequest
	if !ctx.Decode(&req) {
		return
	}

	if req.Symbol == "" || req.FromTs == 0 || req.ToTs == 0 {
		ctx.ReplyError(protocol.CodeInvalidParams, "Missing required parameters: symbol, fromTs, toTs")
		return
	}
	if req.Interval == "" {
		req.Interval = models.IntervalM1
	}
	if !validIntervals[req.Interval] {
		ctx.ReplyError(protocol.CodeInvalidParams, "Unknown interval: "+req.Interval)
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	if s.History == nil {
		ctx.ReplyError(protocol.CodeServiceUnavailable, "History repository not available")
		return
	}

	candles, err := s.History.Fetch(req.Symbol, models.MHistoryQuery{
		FromTs:   req.FromTs,
		ToTs:     req.ToTs,
		Interval: req.Interval,
		Limit:    limit,
	})
	if err != nil {
		s.Logger.Error("history query failed: %v", err)
		ctx.ReplyError(protocol.CodeQueryFailed, "Failed to fetch historical data")
		return
	}

	if candles == nil {
		candles = []models.MCandle{}
	}
	ctx.Reply(historyQueryResponse{
		Symbol:   req.Symbol,
		Candles:  candles,
		Count:    len(candles),
		FromTs:   req.FromTs,
		ToTs:     req.ToTs,
		Interval: req.Interval,
	})
}

// -----------------------------------------------------------------------------
// history.latest
// -----------------------------------------------------------------------------

type historyLatestResponse struct {
	Latest    map[string]float64 `msgpack:"latest"`
	Timestamp int64              `msgpack:"timestamp"`
	Source    string             `msgpack:"source"`
}

func (s *GatewayServer) handleHistoryLatest(ctx *RequestContext) {
	if s.History == nil {
		ctx.ReplyError(protocol.CodeServiceUnavailable, "History repository not available")
		return
	}

	symbols := s.Config.SymbolCodes()
	candles, err := s.History.Latest(symbols, len(symbols))
	if err != nil {
		s.Logger.Error("history latest failed: %v", err)
		ctx.ReplyError(protocol.CodeQueryFailed, "Failed to fetch latest prices")
		return
	}

	latest := make(map[string]float64, len(candles))
	for _, c := range candles {
		latest[c.Symbol] = c.Close
	}

	if len(latest) == 0 {
		ctx.ReplyError(protocol.CodeNoData, "No historical data available")
		return
	}

	ctx.Reply(historyLatestResponse{
		Latest:    latest,
		Timestamp: nowMs(),
		Source:    "postgres",
	})
}
