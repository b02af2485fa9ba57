package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/src/config"
	"trading-gateway/src/logger"
	"trading-gateway/src/models"
	"trading-gateway/src/protocol"
	"trading-gateway/src/risk"
	"trading-gateway/src/session"
)

// -----------------------------------------------------------------------------
// In-memory collaborators
// -----------------------------------------------------------------------------

type fakeOrderLog struct {
	mu         sync.Mutex
	records    []models.MOrderRecord
	failNext   bool
	reconnects int
}

func (f *fakeOrderLog) Initialize() error { return nil }

func (f *fakeOrderLog) Append(key, status, orderID, resultJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("log unavailable")
	}
	f.records = append(f.records, models.MOrderRecord{
		IdempotencyKey: key,
		Status:         status,
		OrderID:        orderID,
		ResultJSON:     resultJSON,
		CreatedAt:      int64(len(f.records) + 1),
	})
	return nil
}

func (f *fakeOrderLog) QueryLatestPerOrder(fromTime, toTime int64, limit int) ([]models.MOrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.MOrderRecord, len(f.records))
	copy(out, f.records)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOrderLog) GetByOrderID(orderID string) (*models.MOrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].OrderID == orderID {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderLog) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeOrderLog) Close() error { return nil }

func (f *fakeOrderLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// -----------------------------------------------------------------------------

type fakeHistory struct {
	candles []models.MCandle
	fail    bool
}

func (f *fakeHistory) Initialize() error { return nil }
func (f *fakeHistory) Close() error      { return nil }

func (f *fakeHistory) Fetch(symbol string, query models.MHistoryQuery) ([]models.MCandle, error) {
	if f.fail {
		return nil, fmt.Errorf("store down")
	}
	var out []models.MCandle
	for _, c := range f.candles {
		if c.Symbol == symbol && c.OpenTime >= query.FromTs && c.OpenTime <= query.ToTs {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeHistory) Latest(symbols []string, limit int) ([]models.MCandle, error) {
	if f.fail {
		return nil, fmt.Errorf("store down")
	}
	latest := make(map[string]models.MCandle)
	for _, c := range f.candles {
		if prev, ok := latest[c.Symbol]; !ok || c.OpenTime > prev.OpenTime {
			latest[c.Symbol] = c
		}
	}
	var out []models.MCandle
	for _, s := range symbols {
		if c, ok := latest[s]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Transport capture
// -----------------------------------------------------------------------------

type captureSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureSink) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *captureSink) decoded(t *testing.T) []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Frame, 0, len(c.frames))
	for _, data := range c.frames {
		f, err := protocol.DecodeFrame(data)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

// byMethod returns every captured frame with the given method.
func (c *captureSink) byMethod(t *testing.T, method string) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range c.decoded(t) {
		if f.Method == method {
			out = append(out, f)
		}
	}
	return out
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

type testGateway struct {
	server   *GatewayServer
	orderLog *fakeOrderLog
	history  *fakeHistory
}

func newTestGateway(t *testing.T) *testGateway {
	conf := config.Default()
	// Long retry intervals keep retransmissions out of frame counts
	conf.QoS.BaseRetryMs = 60000
	conf.QoS.MaxBackoffMs = 60000

	orderLog := &fakeOrderLog{}
	history := &fakeHistory{}

	srv := NewGatewayServer(conf, logger.NewLogger("INFO", "test"), Dependencies{
		Risk:     risk.NewValidator(),
		History:  history,
		OrderLog: orderLog,
	})
	t.Cleanup(func() { srv.Stop() })

	return &testGateway{server: srv, orderLog: orderLog, history: history}
}

// -----------------------------------------------------------------------------

func testIdentity(token byte) models.MClientIdentity {
	id := models.MClientIdentity{ClientID: "c1", DeviceID: 1}
	id.SessionToken[0] = token
	return id
}

// connect binds a fresh session with a captured transport.
func (g *testGateway) connect(t *testing.T, token byte) (*session.Session, *captureSink) {
	sess, _ := g.server.Sessions.Bind(testIdentity(token))
	sink := &captureSink{}
	sess.Outbound.Attach(sink)
	return sess, sink
}

var inboundSeqs sync.Map

// send dispatches a sequenced request on the session.
func (g *testGateway) send(t *testing.T, sess *session.Session, method string, body interface{}) {
	var next uint64 = 1
	if v, ok := inboundSeqs.Load(sess.ID); ok {
		next = v.(uint64) + 1
	}
	inboundSeqs.Store(sess.ID, next)
	g.sendSeq(t, sess, next, method, body)
}

// sendSeq dispatches with an explicit inbound sequence.
func (g *testGateway) sendSeq(t *testing.T, sess *session.Session, seq uint64, method string, body interface{}) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = protocol.EncodeBody(body)
		require.NoError(t, err)
	}
	g.server.dispatch(sess, protocol.Frame{Method: method, Seq: seq, Body: encoded})
}

// hello authenticates the session with a trader token.
func (g *testGateway) hello(t *testing.T, sess *session.Session) {
	g.send(t, sess, "hello", map[string]interface{}{
		"token":    "trader-abc",
		"clientId": "c1",
		"deviceId": "1",
	})
}

// lastBody decodes the most recent response body for a method into a map.
func lastBody(t *testing.T, sink *captureSink, method string) map[string]interface{} {
	frames := sink.byMethod(t, method)
	require.NotEmpty(t, frames, "no %s frames captured", method)

	var body map[string]interface{}
	require.NoError(t, protocol.DecodeBody(frames[len(frames)-1].Body, &body))
	return body
}

func errorCode(body map[string]interface{}) string {
	env, ok := body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := env["code"].(string)
	return code
}

// -----------------------------------------------------------------------------
// Authentication and middleware
// -----------------------------------------------------------------------------

func TestHelloAuthenticatesSession(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)

	g.hello(t, sess)

	body := lastBody(t, sink, "hello")
	assert.Equal(t, "trader-user-123", body["userId"])
	assert.Equal(t, sess.ID, body["sessionId"])

	roles, ok := body["roles"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"trader", "viewer"}, roles)

	token, ok := body["token"].(string)
	require.True(t, ok)
	assert.Len(t, token, 32)

	v, _ := sess.GetField("authenticated")
	assert.Equal(t, "true", v)
}

func TestHelloRejectsMissingToken(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)

	g.send(t, sess, "hello", map[string]interface{}{"clientId": "c1"})

	body := lastBody(t, sink, "hello")
	assert.Equal(t, protocol.CodeInvalidParams, errorCode(body))
}

func TestProtectedMethodSilentlyDropped(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)

	g.send(t, sess, "orders.place", map[string]interface{}{
		"idempotencyKey": "k1", "symbol": "BTC-USD", "side": "BUY",
		"type": "LIMIT", "qty": 1.0, "price": 50000.0,
	})

	// No response, no side effects
	assert.Zero(t, sink.count())
	assert.Zero(t, g.orderLog.count())
	assert.Zero(t, g.server.Metrics.TotalOrdersPlaced())
}

func TestLogoutClearsAuthenticationAndRooms(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)
	g.hello(t, sess)

	g.send(t, sess, "market.subscribe", map[string]interface{}{"symbols": []string{"BTC-USD"}})
	require.NotEmpty(t, g.server.Rooms.Members("market:BTC-USD"))

	g.send(t, sess, "logout", nil)

	body := lastBody(t, sink, "logout")
	assert.Equal(t, sess.ID, body["sessionId"])

	v, _ := sess.GetField("authenticated")
	assert.Equal(t, "false", v)
	assert.Empty(t, g.server.Rooms.Members("market:BTC-USD"))
}

func TestUnknownMethod(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)
	g.hello(t, sess)

	g.send(t, sess, "orders.teleport", nil)

	body := lastBody(t, sink, "orders.teleport")
	assert.Equal(t, protocol.CodeUnknownMethod, errorCode(body))
}

// -----------------------------------------------------------------------------
// QoS-1 dedup and resume
// -----------------------------------------------------------------------------

func TestDuplicateSeqReplaysWithoutRedispatch(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)
	g.hello(t, sess)

	placeReq := map[string]interface{}{
		"idempotencyKey": "k1", "symbol": "BTC-USD", "side": "BUY",
		"type": "LIMIT", "qty": 1.0, "price": 50000.0,
	}
	g.sendSeq(t, sess, 2, "orders.place", placeReq)
	require.Equal(t, int64(1), g.server.Metrics.TotalOrdersPlaced())

	// Same inbound seq again: cached response is replayed, handler is not
	g.sendSeq(t, sess, 2, "orders.place", placeReq)

	assert.Equal(t, int64(1), g.server.Metrics.TotalOrdersPlaced())
	assert.Equal(t, 1, g.orderLog.count())

	frames := sink.byMethod(t, "orders.place")
	require.Len(t, frames, 2)
	assert.Equal(t, frames[0].Seq, frames[1].Seq)
	assert.Equal(t, frames[0].Body, frames[1].Body)
}

func TestStaleSeqBelowHighWaterIsIgnored(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)
	g.sendSeq(t, sess, 5, "hello", map[string]interface{}{"token": "trader-abc", "clientId": "c1"})

	before := sink.count()
	g.sendSeq(t, sess, 3, "metrics.get", nil)

	// seq 3 was never processed and holds no cached response: nothing happens
	assert.Equal(t, before, sink.count())
}

func TestAckReleasesOutboundResponses(t *testing.T) {
	g := newTestGateway(t)
	sess, sink := g.connect(t, 1)
	g.hello(t, sess)

	frames := sink.byMethod(t, "hello")
	require.Len(t, frames, 1)
	respSeq := frames[0].Seq
	require.NotZero(t, respSeq)
	require.NotEmpty(t, sess.Outbound.PendingSeqs())

	ackBody, err := protocol.EncodeBody(protocol.AckBody{Seq: respSeq})
	require.NoError(t, err)
	g.server.dispatch(sess, protocol.Frame{Method: protocol.MethodAck, Body: ackBody})

	assert.Empty(t, sess.Outbound.PendingSeqs())
}

func TestReconnectResumeRedeliversUnackedInOrder(t *testing.T) {
	g := newTestGateway(t)
	sess, _ := g.connect(t, 7)
	g.hello(t, sess)
	g.send(t, sess, "market.subscribe", map[string]interface{}{"symbols": []string{"BTC-USD"}})
	g.send(t, sess, "orders.place", map[string]interface{}{
		"idempotencyKey": "k1", "symbol": "BTC-USD", "side": "BUY",
		"type": "LIMIT", "qty": 1.0, "price": 50000.0,
	})

	pendingBefore := sess.Outbound.PendingSeqs()
	require.NotEmpty(t, pendingBefore)

	// Drop the transport before any ack arrives
	require.NoError(t, g.server.Sessions.Disconnect(sess.ID))

	// Reconnect within the TTL with the same resume token
	resumed, wasResumed := g.server.Sessions.Bind(testIdentity(7))
	require.True(t, wasResumed)
	require.Equal(t, sess.ID, resumed.ID)

	sink2 := &captureSink{}
	resumed.Outbound.Attach(sink2)

	frames := sink2.decoded(t)
	require.Len(t, frames, len(pendingBefore))
	for i, f := range frames {
		assert.Equal(t, pendingBefore[i], f.Seq)
	}

	// Session state survived the reconnect
	v, _ := resumed.GetField("authenticated")
	assert.Equal(t, "true", v)
	roomsRaw, _ := resumed.GetField("subscribedRooms")
	assert.Equal(t, models.EncodeStringList([]string{"market:BTC-USD"}), roomsRaw)
}
